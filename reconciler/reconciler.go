// Package reconciler corrects local channel records from ledger truth, both
// in bulk for an organization and for single channels.
package reconciler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Ghostrayu/xahpayroll-sub003/journal"
	"github.com/Ghostrayu/xahpayroll-sub003/ledger"
	"github.com/Ghostrayu/xahpayroll-sub003/notify"
	"github.com/Ghostrayu/xahpayroll-sub003/repository"
	"github.com/Ghostrayu/xahpayroll-sub003/repository/models"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/shopspring/decimal"
)

// ImportedJobName marks channels created from the ledger alone. The ledger
// does not carry job metadata, so these need manual correction.
const ImportedJobName = "Imported from ledger"

// Skip and report reasons
const (
	ReasonWorkerNotFound     = "WORKER_NOT_FOUND"
	ReasonChannelNotOnLedger = "CHANNEL_NOT_ON_LEDGER"
)

var importedMaxDailyHours = decimal.NewFromInt(8)

type Config struct {
	// StuckClosureAfter is how long a channel may sit in closing without a
	// validation attempt before ResolveStuckClosure will act on it
	StuckClosureAfter time.Duration
	BatchSize         int
}

type Service struct {
	repository *repository.Repository
	ledger     ledger.Client
	journal    *journal.Journal
	notifier   *notify.Dispatcher
	logger     cmtlog.Logger
	config     Config
	now        func() time.Time
}

func NewService(
	repo *repository.Repository,
	ledgerClient ledger.Client,
	j *journal.Journal,
	notifier *notify.Dispatcher,
	logger cmtlog.Logger,
	config Config,
	now func() time.Time,
) *Service {
	if now == nil {
		now = time.Now
	}
	if config.StuckClosureAfter <= 0 {
		config.StuckClosureAfter = time.Hour
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	return &Service{
		repository: repo,
		ledger:     ledgerClient,
		journal:    j,
		notifier:   notifier,
		logger:     logger.With("module", "reconciler"),
		config:     config,
		now:        now,
	}
}

type SkippedChannel struct {
	ChannelID   string `json:"channel_id"`
	Destination string `json:"destination"`
	Reason      string `json:"reason"`
}

type ChannelError struct {
	ChannelID string `json:"channel_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// SyncReport summarizes one SyncAll run
type SyncReport struct {
	OrganizationWallet string           `json:"organization_wallet"`
	LedgerChannels     int              `json:"ledger_channels"`
	Updated            []string         `json:"updated"`
	Imported           []string         `json:"imported"`
	Skipped            []SkippedChannel `json:"skipped"`
	ClosedUnchanged    []string         `json:"closed_unchanged"`
	MissingOnLedger    []string         `json:"missing_on_ledger"`
	Errors             []ChannelError   `json:"errors"`
	SyncedAt           time.Time        `json:"synced_at"`
}

// SyncAll pulls every channel the organization funds from the ledger and
// applies it to the local records
func (s *Service) SyncAll(ctx context.Context, organizationWallet string) (*SyncReport, *repository.RepositoryError) {
	if !ledger.IsValidAddress(organizationWallet) {
		return nil, repository.ValidationError("INVALID_ADDRESS", "Organization wallet is not a valid ledger address")
	}

	read := s.repository.Read(ctx)
	org, repoErr := read.OrganizationByWallet(organizationWallet)
	if repoErr != nil {
		return nil, repoErr
	}

	entries, err := s.ledger.AccountChannels(ctx, organizationWallet)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			entries = nil
		} else {
			s.logger.Error("Ledger unavailable during sync", "organization", organizationWallet, "err", err)
			return nil, repository.LedgerUnavailableError(err)
		}
	}

	employees, repoErr := read.EmployeesByWallet(org.ID)
	if repoErr != nil {
		return nil, repoErr
	}
	local, repoErr := read.ChannelsByOrganization(org.ID)
	if repoErr != nil {
		return nil, repoErr
	}

	now := s.now().UTC()
	report := &SyncReport{
		OrganizationWallet: organizationWallet,
		LedgerChannels:     len(entries),
		Updated:            []string{},
		Imported:           []string{},
		Skipped:            []SkippedChannel{},
		ClosedUnchanged:    []string{},
		MissingOnLedger:    []string{},
		Errors:             []ChannelError{},
		SyncedAt:           now,
	}

	onLedger := make(map[string]bool, len(entries))
	for _, entry := range entries {
		channelID := strings.ToUpper(entry.ChannelID)
		onLedger[channelID] = true

		employee, ok := employees[entry.Destination]
		if !ok {
			report.Skipped = append(report.Skipped, SkippedChannel{
				ChannelID:   channelID,
				Destination: entry.Destination,
				Reason:      ReasonWorkerNotFound,
			})
			continue
		}

		action, repoErr := s.applyEntry(ctx, org.ID, employee.ID, channelID, entry, now)
		if repoErr != nil {
			report.Errors = append(report.Errors, ChannelError{ChannelID: channelID, Code: repoErr.Code, Message: repoErr.Message})
			continue
		}
		switch action {
		case actionUpdated:
			report.Updated = append(report.Updated, channelID)
		case actionImported:
			report.Imported = append(report.Imported, channelID)
		case actionClosed:
			report.ClosedUnchanged = append(report.ClosedUnchanged, channelID)
		}
	}

	for _, ch := range local {
		if ch.ChannelID == nil || ch.Status == models.ChannelClosed {
			continue
		}
		if !onLedger[ch.LedgerID()] {
			report.MissingOnLedger = append(report.MissingOnLedger, ch.LedgerID())
		}
	}

	if s.journal != nil {
		if err := s.journal.RecordSync(organizationWallet, now, report); err != nil {
			s.logger.Error("Failed to journal sync report", "organization", organizationWallet, "err", err)
		}
	}
	s.logger.Info("Ledger sync completed",
		"organization", organizationWallet,
		"ledger_channels", report.LedgerChannels,
		"updated", len(report.Updated),
		"imported", len(report.Imported),
		"skipped", len(report.Skipped),
		"missing_on_ledger", len(report.MissingOnLedger),
		"errors", len(report.Errors),
	)
	return report, nil
}

type syncAction int

const (
	actionUpdated syncAction = iota
	actionImported
	actionClosed
)

// applyEntry updates, imports, or leaves alone the local record of one ledger
// channel, in its own transaction
func (s *Service) applyEntry(ctx context.Context, organizationID, employeeID, channelID string, entry ledger.ChannelEntry, now time.Time) (syncAction, *repository.RepositoryError) {
	var action syncAction
	repoErr := s.repository.InTx(ctx, func(tx *repository.Tx) *repository.RepositoryError {
		channel, repoErr := tx.ChannelByLedgerID(channelID, true)
		if repoErr != nil && !repository.IsCode(repoErr, "CHANNEL_NOT_FOUND") {
			return repoErr
		}
		if channel == nil {
			channel, repoErr = tx.PendingChannelFor(organizationID, employeeID)
			if repoErr != nil {
				return repoErr
			}
		}

		if channel != nil {
			if channel.Status == models.ChannelClosed {
				action = actionClosed
				return nil
			}
			action = actionUpdated
			return tx.ApplyLedgerState(channel.ID, stateOf(channelID, entry), now)
		}

		status := models.ChannelActive
		if entry.Expiration != nil {
			status = models.ChannelClosing
		}
		action = actionImported
		return tx.CreateChannel(&models.Channel{
			ChannelID:          &channelID,
			OrganizationID:     organizationID,
			EmployeeID:         employeeID,
			JobName:            ImportedJobName,
			HourlyRate:         decimal.Zero,
			MaxDailyHours:      importedMaxDailyHours,
			EscrowFundedAmount: entry.Amount,
			OnChainBalance:     entry.Balance,
			Status:             status,
			SettleDelaySeconds: entry.SettleDelay,
			ExpirationTime:     entry.Expiration,
			LastLedgerSync:     &now,
		})
	})
	return action, repoErr
}

func stateOf(channelID string, entry ledger.ChannelEntry) repository.LedgerState {
	return repository.LedgerState{
		ChannelID:          channelID,
		EscrowFundedAmount: entry.Amount,
		OnChainBalance:     entry.Balance,
		SettleDelaySeconds: entry.SettleDelay,
		Expiration:         entry.Expiration,
	}
}

// SyncChannel refreshes one channel from its ledger entry. A channel the
// ledger no longer has is reported, never changed.
func (s *Service) SyncChannel(ctx context.Context, channelID string) (*models.Channel, *repository.RepositoryError) {
	if !ledger.IsValidChannelID(channelID) {
		return nil, repository.ValidationError("INVALID_CHANNEL_ID", "Channel id must be 64 hexadecimal characters")
	}
	channelID = strings.ToUpper(channelID)

	channel, repoErr := s.repository.Read(ctx).ChannelByLedgerID(channelID, false)
	if repoErr != nil {
		return nil, repoErr
	}
	if channel.Status == models.ChannelClosed {
		return nil, repository.ConflictError("ALREADY_CLOSED", "Closed channels are not updated from the ledger").
			With("closed_at", channel.ClosedAt)
	}

	entry, err := s.ledger.GetChannelEntry(ctx, channelID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, repository.ConflictError(ReasonChannelNotOnLedger, "Channel does not exist on the ledger").
				With("status", channel.Status).
				With("accumulated_balance", channel.AccumulatedBalance.String())
		}
		return nil, repository.LedgerUnavailableError(err)
	}

	now := s.now().UTC()
	var updated *models.Channel
	repoErr = s.repository.InTx(ctx, func(tx *repository.Tx) *repository.RepositoryError {
		if repoErr := tx.ApplyLedgerState(channel.ID, stateOf(channelID, *entry), now); repoErr != nil {
			return repoErr
		}
		var repoErr *repository.RepositoryError
		updated, repoErr = tx.ChannelByID(channel.ID, false)
		return repoErr
	})
	if repoErr != nil {
		return nil, repoErr
	}
	s.logger.Info("Channel synced", "channel_id", channelID, "status", updated.Status)
	return updated, nil
}
