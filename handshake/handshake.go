// Package handshake lets an organization ask its worker to close a channel
// from the worker's side. The worker's own wallet then runs the closure
// protocol as the destination.
package handshake

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Ghostrayu/xahpayroll-sub003/closure"
	"github.com/Ghostrayu/xahpayroll-sub003/ledger"
	"github.com/Ghostrayu/xahpayroll-sub003/notify"
	"github.com/Ghostrayu/xahpayroll-sub003/repository"
	"github.com/Ghostrayu/xahpayroll-sub003/repository/models"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/shopspring/decimal"
)

type Service struct {
	repository *repository.Repository
	notifier   *notify.Dispatcher
	logger     cmtlog.Logger
	now        func() time.Time
}

func NewService(repo *repository.Repository, notifier *notify.Dispatcher, logger cmtlog.Logger, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		repository: repo,
		notifier:   notifier,
		logger:     logger.With("module", "handshake"),
		now:        now,
	}
}

// RequestWorkerClosure files a closure request addressed to the channel's worker
func (s *Service) RequestWorkerClosure(ctx context.Context, organizationWallet, channelID, message string) (*models.Notification, *repository.RepositoryError) {
	if organizationWallet == "" || channelID == "" {
		return nil, repository.ValidationError("MISSING_FIELDS", "organization_wallet and channel_id are required")
	}
	if !ledger.IsValidChannelID(channelID) {
		return nil, repository.ValidationError("INVALID_CHANNEL_ID", "Channel id must be 64 hexadecimal characters")
	}

	var request *models.Notification
	repoErr := s.repository.InTx(ctx, func(tx *repository.Tx) *repository.RepositoryError {
		channel, repoErr := tx.ChannelByLedgerID(channelID, true)
		if repoErr != nil {
			return repoErr
		}
		if channel.Organization.WalletAddress != organizationWallet {
			return repository.AuthorizationError("Only the funding organization can request a worker closure")
		}
		switch channel.Status {
		case models.ChannelClosed:
			return repository.ConflictError("ALREADY_CLOSED", "Channel is already closed")
		case models.ChannelClosing:
			return repository.ConflictError("CLOSURE_IN_PROGRESS", "A closure is already in progress for this channel").
				With("last_validation_at", channel.LastValidationAt)
		}

		pending, repoErr := tx.PendingClosureRequest(channel.LedgerID())
		if repoErr != nil {
			return repoErr
		}
		if pending != nil {
			return repository.ConflictError("REQUEST_ALREADY_PENDING", "A closure request is already pending for this channel").
				With("request_id", pending.ID).
				With("created_at", pending.CreatedAt)
		}

		if message == "" {
			message = DefaultMessage(channel)
		}
		data, err := json.Marshal(map[string]any{
			"job_name":            channel.JobName,
			"accumulated_balance": channel.AccumulatedBalance.String(),
			"escrow_return":       closure.EscrowReturn(channel).String(),
		})
		if err != nil {
			return &repository.RepositoryError{
				Code:     "ENCODING_ERROR",
				Message:  "Failed to encode request data",
				Detail:   err.Error(),
				Category: repository.CategoryInfrastructure,
			}
		}
		request = &models.Notification{
			Type:            models.NotificationClosureRequest,
			ChannelID:       channel.LedgerID(),
			SenderWallet:    organizationWallet,
			RecipientWallet: channel.Employee.WalletAddress,
			Message:         message,
			Data:            string(data),
		}
		return tx.CreateNotification(request)
	})
	if repoErr != nil {
		return nil, repoErr
	}

	s.logger.Info("Worker closure requested", "channel_id", request.ChannelID, "request_id", request.ID)
	return request, nil
}

// DefaultMessage is the request text used when the organization gives none
func DefaultMessage(channel *models.Channel) string {
	return fmt.Sprintf("Your employer has requested that you close the payment channel for %s. You have %s XAH in accumulated wages that will be paid out when you close it.",
		channel.JobName, channel.AccumulatedBalance.StringFixed(2))
}

// Payoff is what the worker's wallet needs to close the channel itself
type Payoff struct {
	RequestID          string               `json:"request_id"`
	ChannelID          string               `json:"channel_id"`
	JobName            string               `json:"job_name"`
	AccumulatedBalance decimal.Decimal      `json:"accumulated_balance"`
	EscrowFundedAmount decimal.Decimal      `json:"escrow_funded_amount"`
	EscrowReturn       decimal.Decimal      `json:"escrow_return"`
	OnChainBalance     decimal.Decimal      `json:"on_chain_balance"`
	Template           ledger.ClaimTemplate `json:"template"`
}

// ApproveClosure marks the request approved and returns the payoff figures
func (s *Service) ApproveClosure(ctx context.Context, workerWallet, requestID string) (*Payoff, *repository.RepositoryError) {
	if workerWallet == "" || requestID == "" {
		return nil, repository.ValidationError("MISSING_FIELDS", "wallet_address and request_id are required")
	}

	now := s.now().UTC()
	var payoff *Payoff
	var organizationWallet string
	repoErr := s.repository.InTx(ctx, func(tx *repository.Tx) *repository.RepositoryError {
		request, repoErr := tx.NotificationByID(requestID, true)
		if repoErr != nil {
			return repoErr
		}
		if request.RecipientWallet != workerWallet {
			return repository.AuthorizationError("Closure request is not addressed to this wallet")
		}
		if request.Type != models.NotificationClosureRequest {
			return repository.ValidationError("INVALID_REQUEST_TYPE", "Notification is not a closure request").
				With("type", request.Type)
		}
		if request.ClosureApproved {
			return repository.ConflictError("ALREADY_APPROVED", "Closure request was already approved").
				With("closure_approved_at", request.ClosureApprovedAt)
		}
		if request.Dismissed {
			return repository.ConflictError("REQUEST_NOT_PENDING", "Closure request was cancelled")
		}

		channel, repoErr := tx.ChannelByLedgerID(request.ChannelID, true)
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

		if repoErr := tx.ApproveClosureRequest(request.ID, now); repoErr != nil {
			return repoErr
		}

		organizationWallet = channel.Organization.WalletAddress
		payoff = &Payoff{
			RequestID:          request.ID,
			ChannelID:          channel.LedgerID(),
			JobName:            channel.JobName,
			AccumulatedBalance: channel.AccumulatedBalance,
			EscrowFundedAmount: channel.EscrowFundedAmount,
			EscrowReturn:       closure.EscrowReturn(channel),
			OnChainBalance:     channel.OnChainBalance,
			Template:           closure.CloseTemplate(channel, workerWallet),
		}
		return nil
	})
	if repoErr != nil {
		return nil, repoErr
	}

	s.notifier.Dispatch(ctx, notify.Event{
		Type:            models.NotificationClosureApproved,
		ChannelID:       payoff.ChannelID,
		SenderWallet:    workerWallet,
		RecipientWallet: organizationWallet,
		Message:         fmt.Sprintf("Your worker approved the closure request for %s", payoff.JobName),
		Data: map[string]any{
			"request_id":          payoff.RequestID,
			"accumulated_balance": payoff.AccumulatedBalance.String(),
		},
	})
	s.logger.Info("Closure request approved", "request_id", requestID, "channel_id", payoff.ChannelID)
	return payoff, nil
}

// CancelClosureRequest withdraws a pending request. Only its sender may do so.
func (s *Service) CancelClosureRequest(ctx context.Context, organizationWallet, requestID string) *repository.RepositoryError {
	if organizationWallet == "" || requestID == "" {
		return repository.ValidationError("MISSING_FIELDS", "organization_wallet and request_id are required")
	}
	repoErr := s.repository.InTx(ctx, func(tx *repository.Tx) *repository.RepositoryError {
		request, repoErr := tx.NotificationByID(requestID, true)
		if repoErr != nil {
			return repoErr
		}
		if request.SenderWallet != organizationWallet {
			return repository.AuthorizationError("Only the requester can cancel a closure request")
		}
		if request.Type != models.NotificationClosureRequest {
			return repository.ValidationError("INVALID_REQUEST_TYPE", "Notification is not a closure request")
		}
		return tx.DismissClosureRequest(request.ID)
	})
	if repoErr != nil {
		return repoErr
	}
	s.logger.Info("Closure request cancelled", "request_id", requestID)
	return nil
}

// PendingRequests lists closure requests waiting on the wallet's approval
func (s *Service) PendingRequests(ctx context.Context, wallet string) ([]models.Notification, *repository.RepositoryError) {
	if wallet == "" {
		return nil, repository.ValidationError("MISSING_FIELDS", "wallet_address is required")
	}
	all, repoErr := s.repository.Read(ctx).NotificationsFor(wallet, false, 100)
	if repoErr != nil {
		return nil, repoErr
	}
	pending := make([]models.Notification, 0, len(all))
	for _, n := range all {
		if n.Type == models.NotificationClosureRequest && !n.ClosureApproved && !n.Dismissed {
			pending = append(pending, n)
		}
	}
	return pending, nil
}
