package reconciler

import (
	"context"
	"fmt"
	"strings"

	"github.com/Ghostrayu/xahpayroll-sub003/closure"
	"github.com/Ghostrayu/xahpayroll-sub003/journal"
	"github.com/Ghostrayu/xahpayroll-sub003/ledger"
	"github.com/Ghostrayu/xahpayroll-sub003/notify"
	"github.com/Ghostrayu/xahpayroll-sub003/repository"
	"github.com/Ghostrayu/xahpayroll-sub003/repository/models"
	"github.com/shopspring/decimal"
)

// Evidence a balance correction relied on
const (
	EvidenceClosureTx       = "closure_tx_verified"
	EvidenceAcceptedAbsence = "absence_accepted_by_operator"
)

type CorrectInput struct {
	ChannelID string
	// AcceptAbsence lets an operator treat a channel missing from the ledger
	// as paid out when no closure transaction was ever recorded
	AcceptAbsence bool
	Operator      string
}

type CorrectResult struct {
	ChannelID       string          `json:"channel_id"`
	Corrected       bool            `json:"corrected"`
	PreviousBalance decimal.Decimal `json:"previous_balance"`
	Evidence        string          `json:"evidence,omitempty"`
}

// CorrectStaleBalance zeroes the accrued balance of a closed channel once the
// ledger shows it was paid out
func (s *Service) CorrectStaleBalance(ctx context.Context, in CorrectInput) (*CorrectResult, *repository.RepositoryError) {
	if !ledger.IsValidChannelID(in.ChannelID) {
		return nil, repository.ValidationError("INVALID_CHANNEL_ID", "Channel id must be 64 hexadecimal characters")
	}
	channelID := strings.ToUpper(in.ChannelID)

	channel, repoErr := s.repository.Read(ctx).ChannelByLedgerID(channelID, false)
	if repoErr != nil {
		return nil, repoErr
	}
	if channel.Status != models.ChannelClosed {
		return nil, repository.ConflictError("CHANNEL_NOT_CLOSED", "Only closed channels can have a stale balance").
			With("status", channel.Status)
	}
	result := &CorrectResult{ChannelID: channelID, PreviousBalance: channel.AccumulatedBalance}
	if !channel.AccumulatedBalance.IsPositive() {
		return result, nil
	}

	txHash := ""
	if channel.ClosureTxHash != nil {
		txHash = *channel.ClosureTxHash
	}
	obs, err := closure.Observe(ctx, s.ledger, txHash, channelID)
	if err != nil {
		return nil, repository.LedgerUnavailableError(err)
	}
	if obs.ChannelPresent {
		return nil, repository.LedgerVerificationError("Channel still exists on the ledger").
			With("channel_id", channelID).
			With("on_chain_balance", obs.Entry.Balance.String())
	}

	switch {
	case txHash != "":
		if !obs.Transaction.Succeeded() || !obs.Transaction.TouchesChannel(channelID) {
			failure := repository.LedgerVerificationError("Recorded closure transaction does not prove a payout").
				With("closure_tx_hash", txHash)
			if obs.Transaction != nil {
				failure.With("validated", obs.Transaction.Validated).With("result_code", obs.Transaction.ResultCode)
			}
			return nil, failure
		}
		result.Evidence = EvidenceClosureTx
	case in.AcceptAbsence:
		result.Evidence = EvidenceAcceptedAbsence
		s.logger.Info("Accepting ledger absence as proof of payout",
			"channel_id", channelID,
			"operator", in.Operator,
			"accumulated_balance", channel.AccumulatedBalance.String(),
		)
	default:
		return nil, &repository.RepositoryError{
			Code:     "VERIFICATION_REQUIRED",
			Message:  "Channel has no recorded closure transaction; absence from the ledger alone is not accepted",
			Category: repository.CategoryLedgerVerification,
		}
	}

	now := s.now().UTC()
	repoErr = s.repository.InTx(ctx, func(tx *repository.Tx) *repository.RepositoryError {
		if _, repoErr := tx.ChannelByID(channel.ID, true); repoErr != nil {
			return repoErr
		}
		return tx.ZeroStaleBalance(channel.ID, now)
	})
	if repoErr != nil {
		return nil, repoErr
	}
	result.Corrected = true

	if s.journal != nil {
		err := s.journal.RecordCorrection(journal.Correction{
			ChannelID:       channelID,
			PreviousBalance: channel.AccumulatedBalance.String(),
			ClosureTxHash:   txHash,
			Evidence:        result.Evidence,
			Operator:        in.Operator,
			At:              now,
		})
		if err != nil {
			s.logger.Error("Failed to journal correction", "channel_id", channelID, "err", err)
		}
	}
	if channel.Organization != nil {
		s.notifier.Dispatch(ctx, notify.Event{
			Type:            models.NotificationBalanceCorrected,
			ChannelID:       channelID,
			RecipientWallet: channel.Organization.WalletAddress,
			Message:         fmt.Sprintf("Stale balance of %s XAH cleared on closed channel for %s", channel.AccumulatedBalance.String(), channel.JobName),
			Data: map[string]any{
				"previous_balance": channel.AccumulatedBalance.String(),
				"evidence":         result.Evidence,
			},
		})
	}
	s.logger.Info("Stale balance corrected", "channel_id", channelID, "previous_balance", channel.AccumulatedBalance.String(), "evidence", result.Evidence)
	return result, nil
}

// Stuck closure actions
const (
	ActionExpirationRefreshed = "expiration_refreshed"
	ActionRolledBack          = "rolled_back"
	ActionClosed              = "closed"
)

type StuckResult struct {
	ChannelID string          `json:"channel_id"`
	Action    string          `json:"action"`
	Channel   *models.Channel `json:"channel"`
}

// ResolveStuckClosure settles a channel left in closing by an abandoned
// confirm, using the ledger as the only source of truth
func (s *Service) ResolveStuckClosure(ctx context.Context, channelID string) (*StuckResult, *repository.RepositoryError) {
	if !ledger.IsValidChannelID(channelID) {
		return nil, repository.ValidationError("INVALID_CHANNEL_ID", "Channel id must be 64 hexadecimal characters")
	}
	channelID = strings.ToUpper(channelID)

	channel, repoErr := s.repository.Read(ctx).ChannelByLedgerID(channelID, false)
	if repoErr != nil {
		return nil, repoErr
	}
	now := s.now().UTC()
	if channel.Status != models.ChannelClosing {
		return nil, repository.ConflictError("CHANNEL_NOT_CLOSING", "Channel is not in closing").
			With("status", channel.Status)
	}
	if channel.LastValidationAt != nil && now.Sub(*channel.LastValidationAt) < s.config.StuckClosureAfter {
		return nil, repository.ConflictError("CLOSURE_IN_PROGRESS", "Closure was attempted recently").
			With("last_validation_at", *channel.LastValidationAt).
			With("stuck_after", s.config.StuckClosureAfter.String())
	}

	txHash := ""
	if channel.ClosureTxHash != nil {
		txHash = *channel.ClosureTxHash
	}
	obs, err := closure.Observe(ctx, s.ledger, txHash, channelID)
	if err != nil {
		return nil, repository.LedgerUnavailableError(err)
	}

	result := &StuckResult{ChannelID: channelID}
	if !obs.ChannelPresent && !(obs.Transaction.Succeeded() && obs.Transaction.TouchesChannel(channelID)) {
		unverified := &repository.RepositoryError{
			Code:     "UNVERIFIED_ABSENCE",
			Message:  "Channel is gone from the ledger but no verified closure transaction explains it",
			Category: repository.CategoryLedgerVerification,
		}
		return nil, unverified.With("closure_tx_hash", txHash)
	}

	repoErr = s.repository.InTx(ctx, func(tx *repository.Tx) *repository.RepositoryError {
		current, repoErr := tx.ChannelByID(channel.ID, true)
		if repoErr != nil {
			return repoErr
		}
		if current.Status != models.ChannelClosing {
			return repository.ConflictError("CHANNEL_NOT_CLOSING", "Channel is not in closing").
				With("status", current.Status)
		}

		switch {
		case obs.ChannelPresent:
			result.Action = ActionRolledBack
			if obs.Entry.Expiration != nil {
				result.Action = ActionExpirationRefreshed
			}
			repoErr = tx.ApplyLedgerState(current.ID, stateOf(channelID, *obs.Entry), now)
		default:
			result.Action = ActionClosed
			if repoErr = tx.MarkClosed(current.ID, &txHash, now); repoErr == nil {
				repoErr = tx.ResolveClosureRequests(channelID, txHash)
			}
		}
		if repoErr != nil {
			return repoErr
		}
		result.Channel, repoErr = tx.ChannelByID(current.ID, false)
		return repoErr
	})
	if repoErr != nil {
		return nil, repoErr
	}

	s.logger.Info("Stuck closure resolved", "channel_id", channelID, "action", result.Action)
	return result, nil
}

// StaleClosedChannels lists closed channels that still carry a balance
func (s *Service) StaleClosedChannels(ctx context.Context) ([]models.Channel, *repository.RepositoryError) {
	return s.repository.Read(ctx).StaleClosedChannels(s.config.BatchSize)
}

// StuckClosures lists closing channels older than the stuck threshold
func (s *Service) StuckClosures(ctx context.Context) ([]models.Channel, *repository.RepositoryError) {
	before := s.now().UTC().Add(-s.config.StuckClosureAfter)
	return s.repository.Read(ctx).StuckClosures(before, s.config.BatchSize)
}
