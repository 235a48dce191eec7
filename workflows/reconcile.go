// Package workflows runs ledger reconciliation as an operator-started
// Temporal workflow
package workflows

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// DefaultTaskQueue is the task queue used when none is configured
const DefaultTaskQueue = "xahpayroll-reconciliation"

// ProgressQuery returns the running ReconcileSummary
const ProgressQuery = "progress"

type ReconcileInput struct {
	OrganizationWallets []string `json:"organization_wallets"`
	CorrectStale        bool     `json:"correct_stale"`
	ResolveStuck        bool     `json:"resolve_stuck"`
}

type ChannelFailure struct {
	ChannelID string `json:"channel_id"`
	Step      string `json:"step"`
	Error     string `json:"error"`
}

type ReconcileSummary struct {
	Syncs          []SyncSummary     `json:"syncs"`
	StaleCorrected []string          `json:"stale_corrected"`
	StuckResolved  map[string]string `json:"stuck_resolved"`
	Failures       []ChannelFailure  `json:"failures"`
	StartedAt      time.Time         `json:"started_at"`
	FinishedAt     time.Time         `json:"finished_at"`
}

// ReconcileLedger syncs each organization, then optionally clears stale
// balances and resolves stuck closures. One channel failing does not stop
// the others.
func ReconcileLedger(ctx workflow.Context, in ReconcileInput) (*ReconcileSummary, error) {
	logger := workflow.GetLogger(ctx)
	summary := &ReconcileSummary{
		Syncs:          []SyncSummary{},
		StaleCorrected: []string{},
		StuckResolved:  map[string]string{},
		Failures:       []ChannelFailure{},
		StartedAt:      workflow.Now(ctx),
	}
	_ = workflow.SetQueryHandler(ctx, ProgressQuery, func() (*ReconcileSummary, error) {
		return summary, nil
	})

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    5,
		},
	})

	var a *Activities
	for _, wallet := range in.OrganizationWallets {
		var sync SyncSummary
		if err := workflow.ExecuteActivity(ctx, a.SyncOrganization, wallet).Get(ctx, &sync); err != nil {
			logger.Error("Organization sync failed", "organization", wallet, "error", err)
			summary.Failures = append(summary.Failures, ChannelFailure{ChannelID: wallet, Step: "sync", Error: err.Error()})
			continue
		}
		summary.Syncs = append(summary.Syncs, sync)
	}

	if in.CorrectStale {
		var stale []string
		if err := workflow.ExecuteActivity(ctx, a.ListStaleClosedChannels).Get(ctx, &stale); err != nil {
			return nil, err
		}
		for _, channelID := range stale {
			var corrected bool
			if err := workflow.ExecuteActivity(ctx, a.CorrectStaleBalance, channelID).Get(ctx, &corrected); err != nil {
				summary.Failures = append(summary.Failures, ChannelFailure{ChannelID: channelID, Step: "correct_stale", Error: err.Error()})
				continue
			}
			if corrected {
				summary.StaleCorrected = append(summary.StaleCorrected, channelID)
			}
		}
	}

	if in.ResolveStuck {
		var stuck []string
		if err := workflow.ExecuteActivity(ctx, a.ListStuckClosures).Get(ctx, &stuck); err != nil {
			return nil, err
		}
		for _, channelID := range stuck {
			var action string
			if err := workflow.ExecuteActivity(ctx, a.ResolveStuckClosure, channelID).Get(ctx, &action); err != nil {
				summary.Failures = append(summary.Failures, ChannelFailure{ChannelID: channelID, Step: "resolve_stuck", Error: err.Error()})
				continue
			}
			summary.StuckResolved[channelID] = action
		}
	}

	summary.FinishedAt = workflow.Now(ctx)
	logger.Info("Reconciliation finished",
		"syncs", len(summary.Syncs),
		"stale_corrected", len(summary.StaleCorrected),
		"stuck_resolved", len(summary.StuckResolved),
		"failures", len(summary.Failures),
	)
	return summary, nil
}

// Starter launches ReconcileLedger runs through a Temporal client
type Starter struct {
	Client    client.Client
	TaskQueue string
}

// Start begins a run and returns its workflow and run ids
func (s *Starter) Start(ctx context.Context, in ReconcileInput) (string, string, error) {
	run, err := s.Client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "reconcile-" + uuid.NewString(),
		TaskQueue: s.TaskQueue,
	}, ReconcileLedger, in)
	if err != nil {
		return "", "", fmt.Errorf("start reconciliation workflow: %w", err)
	}
	return run.GetID(), run.GetRunID(), nil
}
