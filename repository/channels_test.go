package repository_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Ghostrayu/xahpayroll-sub003/repository"
	"github.com/Ghostrayu/xahpayroll-sub003/repository/models"
	"github.com/Ghostrayu/xahpayroll-sub003/repository/repotest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestClaimClosingLockOnlyOnce(t *testing.T) {
	repo := repotest.New(t)
	parties := repotest.SeedParties(t, repo)
	channel := repotest.SeedChannel(t, repo, parties, repotest.ChannelID(1))

	var first, second bool
	repoErr := repo.InTx(context.Background(), func(tx *repository.Tx) *repository.RepositoryError {
		var repoErr *repository.RepositoryError
		first, repoErr = tx.ClaimClosingLock(channel.ID, testNow)
		if repoErr != nil {
			return repoErr
		}
		second, repoErr = tx.ClaimClosingLock(channel.ID, testNow)
		return repoErr
	})
	require.Nil(t, repoErr)
	assert.True(t, first)
	assert.False(t, second)

	reloaded := repotest.Channel(t, repo, channel.ID)
	assert.Equal(t, models.ChannelClosing, reloaded.Status)
	assert.Equal(t, 1, reloaded.ValidationAttempts)
	require.NotNil(t, reloaded.LastValidationAt)
}

func TestMarkClosedZeroesBalanceAndIsTerminal(t *testing.T) {
	repo := repotest.New(t)
	parties := repotest.SeedParties(t, repo)
	channel := repotest.SeedChannel(t, repo, parties, repotest.ChannelID(2), repotest.WithBalance("42.5"))
	hash := repotest.TxHash(2)

	repoErr := repo.InTx(context.Background(), func(tx *repository.Tx) *repository.RepositoryError {
		return tx.MarkClosed(channel.ID, &hash, testNow)
	})
	require.Nil(t, repoErr)

	reloaded := repotest.Channel(t, repo, channel.ID)
	assert.Equal(t, models.ChannelClosed, reloaded.Status)
	assert.True(t, reloaded.AccumulatedBalance.IsZero())
	require.NotNil(t, reloaded.ClosureTxHash)
	assert.Equal(t, hash, *reloaded.ClosureTxHash)
	assert.Nil(t, reloaded.ExpirationTime)

	repoErr = repo.InTx(context.Background(), func(tx *repository.Tx) *repository.RepositoryError {
		return tx.MarkClosed(channel.ID, &hash, testNow)
	})
	assert.True(t, repository.IsCode(repoErr, "ALREADY_CLOSED"))

	var rolledBack bool
	repoErr = repo.InTx(context.Background(), func(tx *repository.Tx) *repository.RepositoryError {
		var repoErr *repository.RepositoryError
		rolledBack, repoErr = tx.RollbackToActive(channel.ID)
		return repoErr
	})
	require.Nil(t, repoErr)
	assert.False(t, rolledBack)
	assert.Equal(t, models.ChannelClosed, repotest.Channel(t, repo, channel.ID).Status)
}

func TestRollbackToActiveKeepsBalance(t *testing.T) {
	repo := repotest.New(t)
	parties := repotest.SeedParties(t, repo)
	channel := repotest.SeedChannel(t, repo, parties, repotest.ChannelID(3),
		repotest.WithBalance("17.25"), repotest.WithStatus(models.ChannelClosing))

	for range 2 {
		repoErr := repo.InTx(context.Background(), func(tx *repository.Tx) *repository.RepositoryError {
			_, repoErr := tx.RollbackToActive(channel.ID)
			return repoErr
		})
		require.Nil(t, repoErr)
	}

	reloaded := repotest.Channel(t, repo, channel.ID)
	assert.Equal(t, models.ChannelActive, reloaded.Status)
	assert.True(t, decimal.RequireFromString("17.25").Equal(reloaded.AccumulatedBalance))
}

func TestAttachLedgerIDIsImmutable(t *testing.T) {
	repo := repotest.New(t)
	parties := repotest.SeedParties(t, repo)
	channel := repotest.SeedChannel(t, repo, parties, "", repotest.WithoutLedgerID())

	lower := strings.ToLower(repotest.ChannelID(0xAB))
	repoErr := repo.InTx(context.Background(), func(tx *repository.Tx) *repository.RepositoryError {
		return tx.AttachLedgerID(channel.ID, lower)
	})
	require.Nil(t, repoErr)
	assert.Equal(t, repotest.ChannelID(0xAB), repotest.Channel(t, repo, channel.ID).LedgerID())

	// Same id again is a no-op
	repoErr = repo.InTx(context.Background(), func(tx *repository.Tx) *repository.RepositoryError {
		return tx.AttachLedgerID(channel.ID, repotest.ChannelID(0xAB))
	})
	require.Nil(t, repoErr)

	repoErr = repo.InTx(context.Background(), func(tx *repository.Tx) *repository.RepositoryError {
		return tx.AttachLedgerID(channel.ID, repotest.ChannelID(0xCD))
	})
	require.NotNil(t, repoErr)
	assert.Equal(t, "CHANNEL_ID_IMMUTABLE", repoErr.Code)
	assert.Equal(t, repotest.ChannelID(0xAB), repoErr.Data["channel_id"])

	found, repoErr := repo.Read(context.Background()).ChannelByLedgerID(lower, false)
	require.Nil(t, repoErr)
	assert.Equal(t, channel.ID, found.ID)
}

func TestApplyLedgerStateSkipsClosedChannels(t *testing.T) {
	repo := repotest.New(t)
	parties := repotest.SeedParties(t, repo)
	channel := repotest.SeedChannel(t, repo, parties, repotest.ChannelID(4), repotest.WithStatus(models.ChannelClosed))

	expiration := testNow.Add(time.Hour)
	repoErr := repo.InTx(context.Background(), func(tx *repository.Tx) *repository.RepositoryError {
		return tx.ApplyLedgerState(channel.ID, repository.LedgerState{
			EscrowFundedAmount: decimal.NewFromInt(500),
			OnChainBalance:     decimal.NewFromInt(3),
			SettleDelaySeconds: 60,
			Expiration:         &expiration,
		}, testNow)
	})
	assert.True(t, repository.IsCode(repoErr, "ALREADY_CLOSED"))
	assert.Equal(t, models.ChannelClosed, repotest.Channel(t, repo, channel.ID).Status)
}

func TestApplyLedgerStateSetsClosingWithExpiration(t *testing.T) {
	repo := repotest.New(t)
	parties := repotest.SeedParties(t, repo)
	channel := repotest.SeedChannel(t, repo, parties, repotest.ChannelID(5))

	expiration := testNow.Add(time.Hour)
	repoErr := repo.InTx(context.Background(), func(tx *repository.Tx) *repository.RepositoryError {
		return tx.ApplyLedgerState(channel.ID, repository.LedgerState{
			EscrowFundedAmount: decimal.NewFromInt(250),
			OnChainBalance:     decimal.NewFromInt(12),
			SettleDelaySeconds: 120,
			Expiration:         &expiration,
		}, testNow)
	})
	require.Nil(t, repoErr)

	reloaded := repotest.Channel(t, repo, channel.ID)
	assert.Equal(t, models.ChannelClosing, reloaded.Status)
	assert.True(t, decimal.NewFromInt(250).Equal(reloaded.EscrowFundedAmount))
	assert.True(t, decimal.NewFromInt(12).Equal(reloaded.OnChainBalance))
	assert.Equal(t, int64(120), reloaded.SettleDelaySeconds)
	require.NotNil(t, reloaded.ExpirationTime)
	assert.True(t, expiration.Equal(*reloaded.ExpirationTime))
}

func TestStaleClosedChannels(t *testing.T) {
	repo := repotest.New(t)
	parties := repotest.SeedParties(t, repo)
	stale := repotest.SeedChannel(t, repo, parties, repotest.ChannelID(6),
		repotest.WithStatus(models.ChannelClosed), repotest.WithBalance("9"))
	repotest.SeedChannel(t, repo, parties, repotest.ChannelID(7), repotest.WithStatus(models.ChannelClosed))
	repotest.SeedChannel(t, repo, parties, repotest.ChannelID(8), repotest.WithBalance("9"))

	channels, repoErr := repo.Read(context.Background()).StaleClosedChannels(10)
	require.Nil(t, repoErr)
	require.Len(t, channels, 1)
	assert.Equal(t, stale.ID, channels[0].ID)
}
