package workflows

import (
	"context"

	"github.com/Ghostrayu/xahpayroll-sub003/reconciler"
	"github.com/Ghostrayu/xahpayroll-sub003/repository"
	"go.temporal.io/sdk/temporal"
)

// Activities exposes the reconciler to Temporal. Every method is safe to
// retry: each one re-reads the ledger before writing.
type Activities struct {
	Reconciler *reconciler.Service
}

type SyncSummary struct {
	OrganizationWallet string   `json:"organization_wallet"`
	Updated            int      `json:"updated"`
	Imported           int      `json:"imported"`
	Skipped            int      `json:"skipped"`
	MissingOnLedger    []string `json:"missing_on_ledger"`
	Errors             int      `json:"errors"`
}

func (a *Activities) SyncOrganization(ctx context.Context, organizationWallet string) (SyncSummary, error) {
	report, repoErr := a.Reconciler.SyncAll(ctx, organizationWallet)
	if repoErr != nil {
		return SyncSummary{}, activityError(repoErr)
	}
	return SyncSummary{
		OrganizationWallet: organizationWallet,
		Updated:            len(report.Updated),
		Imported:           len(report.Imported),
		Skipped:            len(report.Skipped),
		MissingOnLedger:    report.MissingOnLedger,
		Errors:             len(report.Errors),
	}, nil
}

func (a *Activities) ListStaleClosedChannels(ctx context.Context) ([]string, error) {
	channels, repoErr := a.Reconciler.StaleClosedChannels(ctx)
	if repoErr != nil {
		return nil, activityError(repoErr)
	}
	ids := make([]string, 0, len(channels))
	for _, ch := range channels {
		ids = append(ids, ch.LedgerID())
	}
	return ids, nil
}

// CorrectStaleBalance never accepts bare ledger absence; that stays an
// operator decision
func (a *Activities) CorrectStaleBalance(ctx context.Context, channelID string) (bool, error) {
	result, repoErr := a.Reconciler.CorrectStaleBalance(ctx, reconciler.CorrectInput{
		ChannelID: channelID,
		Operator:  "workflow",
	})
	if repoErr != nil {
		return false, activityError(repoErr)
	}
	return result.Corrected, nil
}

func (a *Activities) ListStuckClosures(ctx context.Context) ([]string, error) {
	channels, repoErr := a.Reconciler.StuckClosures(ctx)
	if repoErr != nil {
		return nil, activityError(repoErr)
	}
	ids := make([]string, 0, len(channels))
	for _, ch := range channels {
		ids = append(ids, ch.LedgerID())
	}
	return ids, nil
}

func (a *Activities) ResolveStuckClosure(ctx context.Context, channelID string) (string, error) {
	result, repoErr := a.Reconciler.ResolveStuckClosure(ctx, channelID)
	if repoErr != nil {
		return "", activityError(repoErr)
	}
	return result.Action, nil
}

// activityError keeps ledger and database outages retryable and turns every
// other failure into a non-retryable error typed by its code
func activityError(repoErr *repository.RepositoryError) error {
	switch repoErr.Category {
	case repository.CategoryLedgerUnavailable, repository.CategoryInfrastructure:
		return temporal.NewApplicationError(repoErr.Error(), repoErr.Code)
	}
	return temporal.NewNonRetryableApplicationError(repoErr.Error(), repoErr.Code, nil)
}
