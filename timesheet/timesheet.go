// Package timesheet records work sessions and turns elapsed time into the
// balance a channel owes its worker.
package timesheet

import (
	"context"
	"time"

	"github.com/Ghostrayu/xahpayroll-sub003/repository"
	"github.com/Ghostrayu/xahpayroll-sub003/repository/models"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/shopspring/decimal"
)

// amountPlaces is the ledger drop precision
const amountPlaces = 6

var secondsPerHour = decimal.NewFromInt(3600)

// Service is the session ledger
type Service struct {
	repository *repository.Repository
	logger     cmtlog.Logger
	now        func() time.Time
}

// NewService creates the session ledger. now may be nil.
func NewService(repo *repository.Repository, logger cmtlog.Logger, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		repository: repo,
		logger:     logger.With("module", "timesheet"),
		now:        now,
	}
}

// ClockIn opens a work session for the worker on the channel
func (s *Service) ClockIn(ctx context.Context, workerWallet, channelRecordID string) (*models.WorkSession, *repository.RepositoryError) {
	if workerWallet == "" || channelRecordID == "" {
		return nil, repository.ValidationError("MISSING_FIELDS", "wallet_address and channel id are required")
	}

	now := s.now().UTC()
	var session *models.WorkSession
	repoErr := s.repository.InTx(ctx, func(tx *repository.Tx) *repository.RepositoryError {
		channel, repoErr := tx.ChannelByID(channelRecordID, true)
		if repoErr != nil {
			return repoErr
		}
		if channel.Employee.WalletAddress != workerWallet {
			return repository.AuthorizationError("Wallet is not the worker of this channel")
		}
		if channel.Status != models.ChannelActive {
			return repository.ConflictError("CHANNEL_INACTIVE", "Channel is not active").
				With("status", channel.Status)
		}

		active, repoErr := tx.ActiveSession(channel.EmployeeID, channel.ID)
		if repoErr != nil {
			return repoErr
		}
		if active != nil {
			return repository.ConflictError("ALREADY_CLOCKED_IN", "An active session already exists for this channel").
				With("session_id", active.ID).
				With("clock_in", active.ClockIn)
		}

		worked, repoErr := tx.HoursWorkedSince(channel.ID, startOfDay(now))
		if repoErr != nil {
			return repoErr
		}
		if worked.GreaterThanOrEqual(channel.MaxDailyHours) {
			return repository.ConflictError("DAILY_LIMIT_EXCEEDED", "Daily hour limit reached for this channel").
				With("hours_today", worked.String()).
				With("max_daily_hours", channel.MaxDailyHours.String())
		}

		// One hour of pay must still be covered by escrow
		if channel.RemainingEscrow().LessThan(channel.HourlyRate) {
			return repository.ConflictError("INSUFFICIENT_ESCROW", "Remaining escrow does not cover one hour of work").
				With("escrow_funded_amount", channel.EscrowFundedAmount.String()).
				With("accumulated_balance", channel.AccumulatedBalance.String()).
				With("hourly_rate", channel.HourlyRate.String())
		}

		session = &models.WorkSession{
			EmployeeID: channel.EmployeeID,
			ChannelID:  channel.ID,
			ClockIn:    now,
			HourlyRate: channel.HourlyRate,
		}
		return tx.CreateSession(session)
	})
	if repoErr != nil {
		return nil, repoErr
	}

	s.logger.Info("Clocked in", "session_id", session.ID, "channel", channelRecordID)
	return session, nil
}

// ClockOutResult reports what a finished session added to the channel
type ClockOutResult struct {
	Session            *models.WorkSession
	AccumulatedBalance decimal.Decimal
	HoursAccumulated   decimal.Decimal
	CappedByEscrow     bool
	CappedByDailyLimit bool
}

// ClockOut closes the session and accrues its pay on the channel. Both writes
// commit together or not at all.
func (s *Service) ClockOut(ctx context.Context, workerWallet, sessionID string) (*ClockOutResult, *repository.RepositoryError) {
	if workerWallet == "" || sessionID == "" {
		return nil, repository.ValidationError("MISSING_FIELDS", "wallet_address and session id are required")
	}

	now := s.now().UTC()
	result := &ClockOutResult{}
	repoErr := s.repository.InTx(ctx, func(tx *repository.Tx) *repository.RepositoryError {
		session, repoErr := tx.SessionByID(sessionID, true)
		if repoErr != nil {
			return repoErr
		}
		if session.SessionStatus != models.SessionActive {
			return repository.ConflictError("SESSION_NOT_ACTIVE", "Work session is not active").
				With("session_status", session.SessionStatus)
		}
		channel, repoErr := tx.ChannelByID(session.ChannelID, true)
		if repoErr != nil {
			return repoErr
		}
		if channel.Employee.WalletAddress != workerWallet || channel.EmployeeID != session.EmployeeID {
			return repository.AuthorizationError("Session does not belong to this wallet")
		}
		if channel.Status != models.ChannelActive {
			return repository.ConflictError("CHANNEL_INACTIVE", "Channel is not active").
				With("status", channel.Status).
				With("session_id", session.ID)
		}

		hours := HoursBetween(session.ClockIn, now)
		status := models.SessionCompleted
		if channel.MaxDailyHours.IsPositive() && hours.GreaterThan(channel.MaxDailyHours) {
			hours = channel.MaxDailyHours
			status = models.SessionTimeout
			result.CappedByDailyLimit = true
		}

		amount := hours.Mul(session.HourlyRate).Truncate(amountPlaces)
		remaining := channel.RemainingEscrow()
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}
		if amount.GreaterThan(remaining) {
			amount = remaining
			result.CappedByEscrow = true
		}

		if repoErr := tx.FinishSession(session.ID, status, now, hours, amount); repoErr != nil {
			return repoErr
		}
		if repoErr := tx.Accrue(channel.ID, hours, amount); repoErr != nil {
			return repoErr
		}

		session.SessionStatus = status
		session.ClockOut = &now
		session.HoursWorked = hours
		session.TotalAmount = amount
		result.Session = session
		result.AccumulatedBalance = channel.AccumulatedBalance.Add(amount)
		result.HoursAccumulated = channel.HoursAccumulated.Add(hours)
		return nil
	})
	if repoErr != nil {
		return nil, repoErr
	}

	s.logger.Info("Clocked out",
		"session_id", sessionID,
		"hours", result.Session.HoursWorked.String(),
		"amount", result.Session.TotalAmount.String(),
		"capped_by_escrow", result.CappedByEscrow,
	)
	return result, nil
}

// ActiveSession returns the open session of the worker on a channel, or nil
func (s *Service) ActiveSession(ctx context.Context, workerWallet, channelRecordID string) (*models.WorkSession, *repository.RepositoryError) {
	tx := s.repository.Read(ctx)
	channel, repoErr := tx.ChannelByID(channelRecordID, false)
	if repoErr != nil {
		return nil, repoErr
	}
	if channel.Employee.WalletAddress != workerWallet {
		return nil, repository.AuthorizationError("Wallet is not the worker of this channel")
	}
	return tx.ActiveSession(channel.EmployeeID, channel.ID)
}

// HoursBetween is the whole seconds between start and end expressed in hours,
// truncated to ledger precision. It is never rounded up.
func HoursBetween(start, end time.Time) decimal.Decimal {
	seconds := int64(end.Sub(start) / time.Second)
	if seconds <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(seconds).DivRound(secondsPerHour, amountPlaces+2).Truncate(amountPlaces)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
