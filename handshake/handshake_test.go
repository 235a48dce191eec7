package handshake_test

import (
	"context"
	"testing"
	"time"

	"github.com/Ghostrayu/xahpayroll-sub003/handshake"
	"github.com/Ghostrayu/xahpayroll-sub003/notify"
	"github.com/Ghostrayu/xahpayroll-sub003/repository"
	"github.com/Ghostrayu/xahpayroll-sub003/repository/models"
	"github.com/Ghostrayu/xahpayroll-sub003/repository/repotest"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandshake(t *testing.T, opts ...repotest.ChannelOption) (*handshake.Service, *repository.Repository, *models.Channel) {
	t.Helper()
	logger := cmtlog.NewNopLogger()
	repo := repotest.New(t)
	parties := repotest.SeedParties(t, repo)
	channel := repotest.SeedChannel(t, repo, parties, repotest.ChannelID(1), opts...)
	notifier := notify.NewDispatcher(notify.NewDBSink(repo), logger)
	now := func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) }
	return handshake.NewService(repo, notifier, logger, now), repo, channel
}

func TestRequestAndApproveClosure(t *testing.T) {
	svc, repo, channel := newHandshake(t, repotest.WithBalance("30"))
	ctx := context.Background()

	request, repoErr := svc.RequestWorkerClosure(ctx, repotest.OrgWallet, channel.LedgerID(), "")
	require.Nil(t, repoErr)
	assert.Equal(t, repotest.WorkerWallet, request.RecipientWallet)
	assert.Contains(t, request.Message, "30.00 XAH")
	assert.JSONEq(t, `{"job_name":"Warehouse shift","accumulated_balance":"30","escrow_return":"70"}`, request.Data)

	_, repoErr = svc.RequestWorkerClosure(ctx, repotest.OrgWallet, channel.LedgerID(), "again")
	require.NotNil(t, repoErr)
	assert.Equal(t, "REQUEST_ALREADY_PENDING", repoErr.Code)
	assert.Equal(t, request.ID, repoErr.Data["request_id"])

	pending, repoErr := svc.PendingRequests(ctx, repotest.WorkerWallet)
	require.Nil(t, repoErr)
	require.Len(t, pending, 1)

	_, repoErr = svc.ApproveClosure(ctx, repotest.OrgWallet, request.ID)
	require.NotNil(t, repoErr)
	assert.Equal(t, "UNAUTHORIZED", repoErr.Code)

	payoff, repoErr := svc.ApproveClosure(ctx, repotest.WorkerWallet, request.ID)
	require.Nil(t, repoErr)
	assert.Equal(t, channel.LedgerID(), payoff.ChannelID)
	assert.True(t, decimal.NewFromInt(30).Equal(payoff.AccumulatedBalance))
	assert.True(t, decimal.NewFromInt(70).Equal(payoff.EscrowReturn))
	assert.Equal(t, repotest.WorkerWallet, payoff.Template.Account)
	assert.Equal(t, "30000000", payoff.Template.Balance)

	_, repoErr = svc.ApproveClosure(ctx, repotest.WorkerWallet, request.ID)
	require.NotNil(t, repoErr)
	assert.Equal(t, "ALREADY_APPROVED", repoErr.Code)

	pending, repoErr = svc.PendingRequests(ctx, repotest.WorkerWallet)
	require.Nil(t, repoErr)
	assert.Empty(t, pending)

	// The organization hears about the approval
	orgInbox, repoErr := repo.Read(ctx).NotificationsFor(repotest.OrgWallet, false, 10)
	require.Nil(t, repoErr)
	require.Len(t, orgInbox, 1)
	assert.Equal(t, models.NotificationClosureApproved, orgInbox[0].Type)
}

func TestRequestRejections(t *testing.T) {
	svc, repo, channel := newHandshake(t)
	ctx := context.Background()

	_, repoErr := svc.RequestWorkerClosure(ctx, repotest.WorkerWallet, channel.LedgerID(), "")
	require.NotNil(t, repoErr)
	assert.Equal(t, "UNAUTHORIZED", repoErr.Code)

	_, repoErr = svc.RequestWorkerClosure(ctx, repotest.OrgWallet, "abc", "")
	require.NotNil(t, repoErr)
	assert.Equal(t, "INVALID_CHANNEL_ID", repoErr.Code)

	require.Nil(t, repo.InTx(ctx, func(tx *repository.Tx) *repository.RepositoryError {
		_, repoErr := tx.ClaimClosingLock(channel.ID, time.Now())
		return repoErr
	}))
	_, repoErr = svc.RequestWorkerClosure(ctx, repotest.OrgWallet, channel.LedgerID(), "")
	require.NotNil(t, repoErr)
	assert.Equal(t, "CLOSURE_IN_PROGRESS", repoErr.Code)
}

func TestCancelClosureRequest(t *testing.T) {
	svc, _, channel := newHandshake(t)
	ctx := context.Background()

	request, repoErr := svc.RequestWorkerClosure(ctx, repotest.OrgWallet, channel.LedgerID(), "please close")
	require.Nil(t, repoErr)

	repoErr = svc.CancelClosureRequest(ctx, repotest.WorkerWallet, request.ID)
	require.NotNil(t, repoErr)
	assert.Equal(t, "UNAUTHORIZED", repoErr.Code)

	require.Nil(t, svc.CancelClosureRequest(ctx, repotest.OrgWallet, request.ID))

	repoErr = svc.CancelClosureRequest(ctx, repotest.OrgWallet, request.ID)
	require.NotNil(t, repoErr)
	assert.Equal(t, "REQUEST_NOT_PENDING", repoErr.Code)

	_, repoErr = svc.ApproveClosure(ctx, repotest.WorkerWallet, request.ID)
	require.NotNil(t, repoErr)
	assert.Equal(t, "REQUEST_NOT_PENDING", repoErr.Code)

	// A cancelled request no longer blocks a new one
	_, repoErr = svc.RequestWorkerClosure(ctx, repotest.OrgWallet, channel.LedgerID(), "")
	assert.Nil(t, repoErr)
}
