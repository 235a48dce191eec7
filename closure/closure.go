// Package closure implements the two-phase channel closure protocol.
//
// Propose locks a channel into closing and hands the caller an unsigned
// claim for their wallet. Confirm looks the submitted transaction and the
// channel up on the ledger and either finalizes the local record or rolls it
// back to active. A client-supplied transaction hash is only ever used as a
// lookup key.
package closure

import (
	"time"

	"github.com/Ghostrayu/xahpayroll-sub003/journal"
	"github.com/Ghostrayu/xahpayroll-sub003/ledger"
	"github.com/Ghostrayu/xahpayroll-sub003/notify"
	"github.com/Ghostrayu/xahpayroll-sub003/repository"
	"github.com/Ghostrayu/xahpayroll-sub003/repository/models"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/shopspring/decimal"
)

// Caller roles
const (
	RoleSource      = "source"
	RoleDestination = "destination"
)

// Confirm outcomes
const (
	OutcomeScheduled = "scheduled"
	OutcomeClosed    = "closed"
	OutcomeFailed    = "failed"
)

type Service struct {
	repository *repository.Repository
	ledger     ledger.Client
	journal    *journal.Journal
	notifier   *notify.Dispatcher
	logger     cmtlog.Logger
	now        func() time.Time
}

// NewService wires the closure protocol. journal and notifier may be nil.
func NewService(
	repo *repository.Repository,
	ledgerClient ledger.Client,
	j *journal.Journal,
	notifier *notify.Dispatcher,
	logger cmtlog.Logger,
	now func() time.Time,
) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		repository: repo,
		ledger:     ledgerClient,
		journal:    j,
		notifier:   notifier,
		logger:     logger.With("module", "closure"),
		now:        now,
	}
}

// RoleOf returns the role of wallet on the channel or an authorization error
func RoleOf(channel *models.Channel, wallet string) (string, *repository.RepositoryError) {
	switch {
	case channel.Organization != nil && channel.Organization.WalletAddress == wallet:
		return RoleSource, nil
	case channel.Employee != nil && channel.Employee.WalletAddress == wallet:
		return RoleDestination, nil
	}
	return "", repository.AuthorizationError("Wallet is neither the organization nor the worker of this channel")
}

// EscrowReturn is what goes back to the organization once the worker is paid.
// It is never negative.
func EscrowReturn(channel *models.Channel) decimal.Decimal {
	r := channel.EscrowFundedAmount.Sub(channel.AccumulatedBalance)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// CloseTemplate builds the claim that pays the worker everything owed and
// closes the channel. The ledger balance field is cumulative, so the already
// claimed on-chain balance is included.
func CloseTemplate(channel *models.Channel, account string) ledger.ClaimTemplate {
	balance := channel.OnChainBalance.Add(channel.AccumulatedBalance)
	return ledger.NewCloseTemplate(account, channel.LedgerID(), balance, balance)
}

func validateChannelCaller(channelID, wallet string) *repository.RepositoryError {
	if channelID == "" || wallet == "" {
		return repository.ValidationError("MISSING_FIELDS", "channel_id and wallet_address are required")
	}
	if !ledger.IsValidAddress(wallet) {
		return repository.ValidationError("INVALID_ADDRESS", "Wallet address is not a valid ledger address").
			With("wallet_address", wallet)
	}
	if !ledger.IsValidChannelID(channelID) {
		return repository.ValidationError("INVALID_CHANNEL_ID", "Channel id must be 64 hexadecimal characters").
			With("channel_id", channelID)
	}
	return nil
}

func (s *Service) recordVerification(v journal.Verification) {
	if s.journal == nil {
		return
	}
	if err := s.journal.RecordVerification(v); err != nil {
		s.logger.Error("Failed to journal verification", "tx_hash", v.TxHash, "err", err)
	}
}
