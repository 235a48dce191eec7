package closure

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Ghostrayu/xahpayroll-sub003/ledger"
	"github.com/Ghostrayu/xahpayroll-sub003/repository"
	"github.com/Ghostrayu/xahpayroll-sub003/repository/models"
	"github.com/shopspring/decimal"
)

// DefaultSettleDelay is one day, in seconds
const DefaultSettleDelay int64 = 86400

var defaultMaxDailyHours = decimal.NewFromInt(8)

type CreateInput struct {
	OrganizationWallet string
	WorkerWallet       string
	Amount             decimal.Decimal
	SettleDelaySeconds int64
	PublicKey          string
	CancelAfter        *time.Time
}

// PrepareCreate checks both parties and returns the funding transaction for
// the organization's wallet. Nothing is persisted until RecordCreation.
func (s *Service) PrepareCreate(ctx context.Context, in CreateInput) (*ledger.CreateTemplate, *repository.RepositoryError) {
	if !ledger.IsValidAddress(in.OrganizationWallet) || !ledger.IsValidAddress(in.WorkerWallet) {
		return nil, repository.ValidationError("INVALID_ADDRESS", "Organization and worker wallets must be valid ledger addresses")
	}
	if in.OrganizationWallet == in.WorkerWallet {
		return nil, repository.ValidationError("INVALID_ADDRESS", "Source and destination must differ")
	}
	if !in.Amount.IsPositive() {
		return nil, repository.ValidationError("INVALID_AMOUNT", "Funding amount must be positive")
	}
	if in.SettleDelaySeconds < 0 {
		return nil, repository.ValidationError("INVALID_SETTLE_DELAY", "Settle delay cannot be negative")
	}
	settleDelay := in.SettleDelaySeconds
	if settleDelay == 0 {
		settleDelay = DefaultSettleDelay
	}

	tx := s.repository.Read(ctx)
	org, repoErr := tx.OrganizationByWallet(in.OrganizationWallet)
	if repoErr != nil {
		return nil, repoErr
	}
	if _, repoErr := tx.EmployeeByWallet(org.ID, in.WorkerWallet); repoErr != nil {
		return nil, repoErr
	}

	var cancelAfter int64
	if in.CancelAfter != nil {
		if !in.CancelAfter.After(s.now()) {
			return nil, repository.ValidationError("INVALID_CANCEL_AFTER", "cancel_after must be in the future")
		}
		cancelAfter = ledger.UnixToRippleTime(*in.CancelAfter)
	}

	template := ledger.NewCreateTemplate(in.OrganizationWallet, in.WorkerWallet, in.Amount, settleDelay, in.PublicKey, cancelAfter)
	return &template, nil
}

type RecordCreationInput struct {
	OrganizationWallet string
	WorkerWallet       string
	JobName            string
	HourlyRate         decimal.Decimal
	MaxDailyHours      decimal.Decimal
	TxHash             string
}

// RecordCreation verifies a funding transaction on the ledger and persists
// the channel it created
func (s *Service) RecordCreation(ctx context.Context, in RecordCreationInput) (*models.Channel, *repository.RepositoryError) {
	if in.JobName == "" {
		return nil, repository.ValidationError("MISSING_FIELDS", "job_name is required")
	}
	if !ledger.IsValidAddress(in.OrganizationWallet) || !ledger.IsValidAddress(in.WorkerWallet) {
		return nil, repository.ValidationError("INVALID_ADDRESS", "Organization and worker wallets must be valid ledger addresses")
	}
	if !ledger.IsValidTxHash(in.TxHash) {
		return nil, repository.ValidationError("INVALID_TX_HASH", "Transaction hash must be 64 hexadecimal characters")
	}
	if in.HourlyRate.IsNegative() {
		return nil, repository.ValidationError("INVALID_RATE", "Hourly rate cannot be negative")
	}
	maxDaily := in.MaxDailyHours
	if maxDaily.IsZero() {
		maxDaily = defaultMaxDailyHours
	}
	if maxDaily.IsNegative() || maxDaily.GreaterThan(decimal.NewFromInt(24)) {
		return nil, repository.ValidationError("INVALID_MAX_DAILY_HOURS", "max_daily_hours must be between 0 and 24")
	}
	txHash := strings.ToUpper(in.TxHash)

	read := s.repository.Read(ctx)
	org, repoErr := read.OrganizationByWallet(in.OrganizationWallet)
	if repoErr != nil {
		return nil, repoErr
	}
	employee, repoErr := read.EmployeeByWallet(org.ID, in.WorkerWallet)
	if repoErr != nil {
		return nil, repoErr
	}

	txn, err := s.ledger.GetTransaction(ctx, txHash)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, repository.LedgerVerificationError("Funding transaction was not found on the ledger").
				With("tx_hash", txHash)
		}
		return nil, repository.LedgerUnavailableError(err)
	}
	if !txn.Succeeded() || txn.Type != "PaymentChannelCreate" ||
		txn.Account != in.OrganizationWallet || txn.Destination != in.WorkerWallet || len(txn.CreatedChannels) != 1 {
		return nil, repository.LedgerVerificationError("Transaction did not create a channel between these parties").
			With("tx_hash", txHash).
			With("validated", txn.Validated).
			With("result_code", txn.ResultCode).
			With("transaction_type", txn.Type)
	}
	channelID := strings.ToUpper(txn.CreatedChannels[0])

	entry, err := s.ledger.GetChannelEntry(ctx, channelID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, repository.ConflictError("CHANNEL_NOT_ON_LEDGER", "Created channel no longer exists on the ledger").
				With("channel_id", channelID)
		}
		return nil, repository.LedgerUnavailableError(err)
	}
	if in.HourlyRate.GreaterThan(entry.Amount) {
		return nil, repository.ValidationError("INVALID_RATE", "Hourly rate exceeds the funded escrow")
	}

	now := s.now().UTC()
	channel := &models.Channel{
		ChannelID:          &channelID,
		OrganizationID:     org.ID,
		EmployeeID:         employee.ID,
		JobName:            in.JobName,
		HourlyRate:         in.HourlyRate,
		MaxDailyHours:      maxDaily,
		EscrowFundedAmount: entry.Amount,
		OnChainBalance:     entry.Balance,
		Status:             models.ChannelActive,
		SettleDelaySeconds: entry.SettleDelay,
		CreationTxHash:     &txHash,
		LastLedgerSync:     &now,
	}
	repoErr = s.repository.InTx(ctx, func(tx *repository.Tx) *repository.RepositoryError {
		if existing, repoErr := tx.ChannelByLedgerID(channelID, false); repoErr == nil {
			return repository.ConflictError("CHANNEL_ALREADY_RECORDED", "Channel is already recorded").
				With("id", existing.ID)
		} else if !repository.IsCode(repoErr, "CHANNEL_NOT_FOUND") {
			return repoErr
		}
		return tx.CreateChannel(channel)
	})
	if repoErr != nil {
		return nil, repoErr
	}

	s.logger.Info("Channel recorded",
		"channel_id", channelID,
		"organization", org.ID,
		"worker", employee.ID,
		"escrow", entry.Amount.String(),
	)
	return channel, nil
}
