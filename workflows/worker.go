package workflows

import (
	"fmt"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"go.temporal.io/sdk/client"
	temporallog "go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"
)

// Logger feeds Temporal SDK logs into the service logger
type Logger struct {
	logger cmtlog.Logger
}

var _ temporallog.Logger = (*Logger)(nil)

func NewLogger(logger cmtlog.Logger) *Logger {
	return &Logger{logger: logger.With("module", "temporal")}
}

func (l *Logger) Debug(msg string, keyvals ...any) { l.logger.Debug(msg, keyvals...) }
func (l *Logger) Info(msg string, keyvals ...any)  { l.logger.Info(msg, keyvals...) }
func (l *Logger) Warn(msg string, keyvals ...any)  { l.logger.With("warn", true).Info(msg, keyvals...) }
func (l *Logger) Error(msg string, keyvals ...any) { l.logger.Error(msg, keyvals...) }

// Dial connects to the Temporal frontend
func Dial(hostPort, namespace string, logger cmtlog.Logger) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  hostPort,
		Namespace: namespace,
		Logger:    NewLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create Temporal client: %w", err)
	}
	return c, nil
}

// NewWorker registers the reconciliation workflow and its activities
func NewWorker(c client.Client, taskQueue string, activities *Activities) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflow(ReconcileLedger)
	w.RegisterActivity(activities)
	return w
}
