package closure

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Ghostrayu/xahpayroll-sub003/journal"
	"github.com/Ghostrayu/xahpayroll-sub003/ledger"
	"github.com/Ghostrayu/xahpayroll-sub003/notify"
	"github.com/Ghostrayu/xahpayroll-sub003/repository"
	"github.com/Ghostrayu/xahpayroll-sub003/repository/models"
)

type ConfirmInput struct {
	ChannelID    string
	CallerWallet string
	TxHash       string
}

type ConfirmResult struct {
	Role    string
	Outcome string
	Channel *models.Channel
}

// LedgerObservation is what the ledger said about a closure transaction and
// its channel
type LedgerObservation struct {
	Transaction    *ledger.Transaction // nil when the ledger does not know the hash
	Entry          *ledger.ChannelEntry
	ChannelPresent bool
}

func (o LedgerObservation) validated() bool {
	return o.Transaction != nil && o.Transaction.Validated
}

// Verdict decides what a confirm call proves. It returns the outcome, or
// OutcomeFailed with a human-readable reason.
func Verdict(role, channelID string, obs LedgerObservation) (string, string) {
	// A destination closure always removes the channel
	if role == RoleDestination && obs.ChannelPresent {
		return OutcomeFailed, "Channel still exists on the ledger after a worker closure"
	}
	txn := obs.Transaction
	switch {
	case txn == nil:
		return OutcomeFailed, "Transaction was not found on the ledger"
	case !txn.Validated:
		return OutcomeFailed, "Transaction is not validated yet"
	case txn.ResultCode != ledger.ResultSuccess:
		return OutcomeFailed, fmt.Sprintf("Transaction failed with result %s", txn.ResultCode)
	case !txn.TouchesChannel(channelID):
		return OutcomeFailed, "Transaction does not reference this channel"
	}
	if !obs.ChannelPresent {
		return OutcomeClosed, ""
	}
	if obs.Entry != nil && obs.Entry.Expiration != nil {
		return OutcomeScheduled, ""
	}
	return OutcomeFailed, "Channel is still open on the ledger and no expiration was scheduled"
}

// Observe asks the ledger about the transaction and the channel. Any answer
// other than found or not found is returned as an error.
func Observe(ctx context.Context, client ledger.Client, txHash, channelID string) (LedgerObservation, error) {
	var obs LedgerObservation
	if txHash != "" {
		txn, err := client.GetTransaction(ctx, txHash)
		switch {
		case err == nil:
			obs.Transaction = txn
		case !errors.Is(err, ledger.ErrNotFound):
			return obs, err
		}
	}
	entry, err := client.GetChannelEntry(ctx, channelID)
	switch {
	case err == nil:
		obs.Entry = entry
		obs.ChannelPresent = true
	case !errors.Is(err, ledger.ErrNotFound):
		return obs, err
	}
	return obs, nil
}

// Confirm is phase B
func (s *Service) Confirm(ctx context.Context, in ConfirmInput) (*ConfirmResult, *repository.RepositoryError) {
	if repoErr := validateChannelCaller(in.ChannelID, in.CallerWallet); repoErr != nil {
		return nil, repoErr
	}
	if in.TxHash == "" {
		return nil, repository.ValidationError("MISSING_FIELDS", "tx_hash is required")
	}
	if !ledger.IsValidTxHash(in.TxHash) {
		return nil, repository.ValidationError("INVALID_TX_HASH", "Transaction hash must be 64 hexadecimal characters").
			With("tx_hash", in.TxHash)
	}
	txHash := strings.ToUpper(in.TxHash)

	channel, repoErr := s.repository.Read(ctx).ChannelByLedgerID(in.ChannelID, false)
	if repoErr != nil {
		return nil, repoErr
	}
	role, repoErr := RoleOf(channel, in.CallerWallet)
	if repoErr != nil {
		return nil, repoErr
	}
	if channel.Status == models.ChannelClosed {
		return nil, repository.ConflictError("ALREADY_CLOSED", "Channel is already closed").
			With("closure_tx_hash", channel.ClosureTxHash).
			With("closed_at", channel.ClosedAt)
	}

	obs, err := Observe(ctx, s.ledger, txHash, channel.LedgerID())
	if err != nil {
		s.logger.Error("Ledger unavailable during confirm", "channel_id", in.ChannelID, "tx_hash", txHash, "err", err)
		return nil, repository.LedgerUnavailableError(err).
			With("status", channel.Status).
			With("retry_safe", true)
	}

	outcome, reason := Verdict(role, channel.LedgerID(), obs)
	now := s.now().UTC()
	verification := journal.Verification{
		TxHash:         txHash,
		ChannelID:      channel.LedgerID(),
		Role:           role,
		Validated:      obs.validated(),
		ChannelRemoved: !obs.ChannelPresent,
		Outcome:        outcome,
		Reason:         reason,
		At:             now,
	}
	if obs.Transaction != nil {
		verification.ResultCode = obs.Transaction.ResultCode
	}

	if outcome == OutcomeFailed {
		return nil, s.rollback(ctx, channel, role, obs, verification)
	}

	var updated *models.Channel
	repoErr = s.repository.InTx(ctx, func(tx *repository.Tx) *repository.RepositoryError {
		current, repoErr := tx.ChannelByID(channel.ID, true)
		if repoErr != nil {
			return repoErr
		}
		if current.Status == models.ChannelClosed {
			return repository.ConflictError("ALREADY_CLOSED", "Channel is already closed")
		}

		switch outcome {
		case OutcomeScheduled:
			repoErr = tx.MarkScheduledClosure(current.ID, *obs.Entry.Expiration, txHash, obs.Entry.Balance, now)
		case OutcomeClosed:
			if repoErr = tx.MarkClosed(current.ID, &txHash, now); repoErr == nil {
				repoErr = tx.ResolveClosureRequests(current.LedgerID(), txHash)
			}
		}
		if repoErr != nil {
			return repoErr
		}

		updated, repoErr = tx.ChannelByID(current.ID, false)
		return repoErr
	})
	if repoErr != nil {
		return nil, repoErr
	}

	s.recordVerification(verification)
	s.logger.Info("Closure confirmed",
		"channel_id", updated.LedgerID(),
		"role", role,
		"outcome", outcome,
		"tx_hash", txHash,
	)
	return &ConfirmResult{Role: role, Outcome: outcome, Channel: updated}, nil
}

// rollback restores a channel to active after a closure the ledger did not
// confirm. Balances stay as they are. A channel whose ledger entry is still
// counting down to expiration stays closing with the ledger's expiration.
func (s *Service) rollback(ctx context.Context, channel *models.Channel, role string, obs LedgerObservation, v journal.Verification) *repository.RepositoryError {
	var rolledBack bool
	scheduled := obs.ChannelPresent && obs.Entry != nil && obs.Entry.Expiration != nil
	repoErr := s.repository.InTx(ctx, func(tx *repository.Tx) *repository.RepositoryError {
		if scheduled {
			return tx.ApplyLedgerState(channel.ID, repository.LedgerState{
				EscrowFundedAmount: obs.Entry.Amount,
				OnChainBalance:     obs.Entry.Balance,
				SettleDelaySeconds: obs.Entry.SettleDelay,
				Expiration:         obs.Entry.Expiration,
			}, v.At)
		}
		var repoErr *repository.RepositoryError
		rolledBack, repoErr = tx.RollbackToActive(channel.ID)
		return repoErr
	})
	if repoErr != nil {
		return repoErr
	}

	s.recordVerification(v)
	s.logger.Info("Closure verification failed",
		"channel_id", v.ChannelID,
		"role", role,
		"tx_hash", v.TxHash,
		"reason", v.Reason,
		"rolled_back", rolledBack,
	)

	if channel.Organization != nil {
		s.notifier.Dispatch(ctx, notify.Event{
			Type:            models.NotificationClosureFailed,
			ChannelID:       v.ChannelID,
			SenderWallet:    callerWallet(channel, role),
			RecipientWallet: channel.Organization.WalletAddress,
			Message:         fmt.Sprintf("Closure of channel %s for %s could not be confirmed: %s", shortID(v.ChannelID), channel.JobName, v.Reason),
			Data: map[string]any{
				"tx_hash":         v.TxHash,
				"validated":       v.Validated,
				"channel_removed": v.ChannelRemoved,
				"result_code":     v.ResultCode,
				"reason":          v.Reason,
				"role":            role,
				"at":              v.At.Format(time.RFC3339),
			},
		})
	}

	failure := repository.LedgerVerificationError("The ledger did not confirm the closure").
		With("tx_hash", v.TxHash).
		With("validated", v.Validated).
		With("channel_removed", v.ChannelRemoved).
		With("reason", v.Reason)
	failure.Detail = v.Reason
	if scheduled {
		return failure.
			With("status", models.ChannelClosing).
			With("expiration_time", *obs.Entry.Expiration).
			With("retry_safe", true)
	}
	if !rolledBack {
		return failure.With("retry_safe", false)
	}
	return failure.
		With("rolled_back_to", models.ChannelActive).
		With("accumulated_balance", channel.AccumulatedBalance.String()).
		With("retry_safe", true)
}

func callerWallet(channel *models.Channel, role string) string {
	if role == RoleSource && channel.Organization != nil {
		return channel.Organization.WalletAddress
	}
	if channel.Employee != nil {
		return channel.Employee.WalletAddress
	}
	return ""
}

func shortID(channelID string) string {
	if len(channelID) <= 16 {
		return channelID
	}
	return channelID[:8] + "..." + channelID[len(channelID)-8:]
}
