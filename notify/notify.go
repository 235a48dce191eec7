// Package notify delivers structured events to channel parties. Delivery is
// best effort: a failed notification never fails the operation that caused it.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Ghostrayu/xahpayroll-sub003/repository"
	"github.com/Ghostrayu/xahpayroll-sub003/repository/models"
	cmtlog "github.com/cometbft/cometbft/libs/log"
)

// Event is one notification to deliver
type Event struct {
	Type            string
	ChannelID       string
	SenderWallet    string
	RecipientWallet string
	Message         string
	Data            map[string]any
}

// Sink stores or forwards events
type Sink interface {
	Notify(ctx context.Context, event Event) error
}

// DBSink writes events as notification rows
type DBSink struct {
	repository *repository.Repository
}

func NewDBSink(repo *repository.Repository) *DBSink {
	return &DBSink{repository: repo}
}

func (s *DBSink) Notify(ctx context.Context, event Event) error {
	data := ""
	if len(event.Data) > 0 {
		raw, err := json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("marshal notification data: %w", err)
		}
		data = string(raw)
	}
	n := &models.Notification{
		Type:            event.Type,
		ChannelID:       event.ChannelID,
		SenderWallet:    event.SenderWallet,
		RecipientWallet: event.RecipientWallet,
		Message:         event.Message,
		Data:            data,
	}
	repoErr := s.repository.InTx(ctx, func(tx *repository.Tx) *repository.RepositoryError {
		return tx.CreateNotification(n)
	})
	if repoErr != nil {
		return repoErr
	}
	return nil
}

// Dispatcher sends events after the primary transaction has committed and
// logs, rather than returns, delivery failures
type Dispatcher struct {
	sink   Sink
	logger cmtlog.Logger
}

func NewDispatcher(sink Sink, logger cmtlog.Logger) *Dispatcher {
	return &Dispatcher{
		sink:   sink,
		logger: logger.With("module", "notify"),
	}
}

// Dispatch delivers the event and reports whether it was stored
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) bool {
	if d == nil || d.sink == nil {
		return false
	}
	if err := d.sink.Notify(ctx, event); err != nil {
		d.logger.Error("Failed to deliver notification",
			"type", event.Type,
			"channel_id", event.ChannelID,
			"recipient", event.RecipientWallet,
			"err", err,
		)
		return false
	}
	return true
}
