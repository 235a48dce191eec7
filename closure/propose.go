package closure

import (
	"context"

	"github.com/Ghostrayu/xahpayroll-sub003/ledger"
	"github.com/Ghostrayu/xahpayroll-sub003/repository"
	"github.com/Ghostrayu/xahpayroll-sub003/repository/models"
	"github.com/shopspring/decimal"
)

type ProposeInput struct {
	ChannelID    string
	CallerWallet string
	ForceClose   bool
}

type ProposeResult struct {
	Role               string
	ChannelID          string
	AccumulatedBalance decimal.Decimal
	EscrowFundedAmount decimal.Decimal
	EscrowReturn       decimal.Decimal
	ValidationAttempts int
	Template           ledger.ClaimTemplate
}

// Propose is phase A. On success the channel is closing and the caller gets
// a claim template to sign.
func (s *Service) Propose(ctx context.Context, in ProposeInput) (*ProposeResult, *repository.RepositoryError) {
	if repoErr := validateChannelCaller(in.ChannelID, in.CallerWallet); repoErr != nil {
		return nil, repoErr
	}

	now := s.now().UTC()
	var result *ProposeResult
	repoErr := s.repository.InTx(ctx, func(tx *repository.Tx) *repository.RepositoryError {
		channel, repoErr := tx.ChannelByLedgerID(in.ChannelID, true)
		if repoErr != nil {
			return repoErr
		}
		role, repoErr := RoleOf(channel, in.CallerWallet)
		if repoErr != nil {
			return repoErr
		}

		switch channel.Status {
		case models.ChannelClosed:
			return repository.ConflictError("ALREADY_CLOSED", "Channel is already closed").
				With("closed_at", channel.ClosedAt)
		case models.ChannelClosing:
			return closureInProgress(channel)
		}

		// No wages may accrue after the claim template is built
		session, repoErr := tx.ActiveSession(channel.EmployeeID, channel.ID)
		if repoErr != nil {
			return repoErr
		}
		if session != nil {
			return repository.ConflictError("SESSION_IN_PROGRESS", "The worker is clocked in on this channel; clock out before closing").
				With("session_id", session.ID).
				With("clock_in", session.ClockIn)
		}

		if channel.AccumulatedBalance.IsPositive() && !in.ForceClose {
			return unclaimedBalance(channel, role)
		}

		locked, repoErr := tx.ClaimClosingLock(channel.ID, now)
		if repoErr != nil {
			return repoErr
		}
		if !locked {
			current, repoErr := tx.ChannelByID(channel.ID, false)
			if repoErr != nil {
				return repoErr
			}
			if current.Status == models.ChannelClosed {
				return repository.ConflictError("ALREADY_CLOSED", "Channel is already closed")
			}
			return closureInProgress(current)
		}

		result = &ProposeResult{
			Role:               role,
			ChannelID:          channel.LedgerID(),
			AccumulatedBalance: channel.AccumulatedBalance,
			EscrowFundedAmount: channel.EscrowFundedAmount,
			EscrowReturn:       EscrowReturn(channel),
			ValidationAttempts: channel.ValidationAttempts + 1,
			Template:           CloseTemplate(channel, in.CallerWallet),
		}
		return nil
	})
	if repoErr != nil {
		return nil, repoErr
	}

	s.logger.Info("Closure proposed",
		"channel_id", in.ChannelID,
		"role", result.Role,
		"accumulated_balance", result.AccumulatedBalance.String(),
		"escrow_return", result.EscrowReturn.String(),
		"force", in.ForceClose,
	)
	return result, nil
}

func closureInProgress(channel *models.Channel) *repository.RepositoryError {
	repoErr := repository.ConflictError("CLOSURE_IN_PROGRESS", "A closure is already in progress for this channel").
		With("validation_attempts", channel.ValidationAttempts)
	if channel.LastValidationAt != nil {
		repoErr.With("last_validation_at", *channel.LastValidationAt)
	}
	if channel.ExpirationTime != nil {
		repoErr.With("expiration_time", *channel.ExpirationTime)
	}
	return repoErr
}

func unclaimedBalance(channel *models.Channel, role string) *repository.RepositoryError {
	message := "The worker has an unclaimed balance. Closing now pays it out of escrow and returns the rest to the organization; retry with force_close to proceed"
	if role == RoleDestination {
		message = "You have an unclaimed balance. Closing now claims it and ends the channel; retry with force_close to proceed"
	}
	return repository.ConflictError("UNCLAIMED_BALANCE", message).
		With("role", role).
		With("accumulated_balance", channel.AccumulatedBalance.String()).
		With("escrow_return", EscrowReturn(channel).String()).
		With("requires_force_close", true)
}
