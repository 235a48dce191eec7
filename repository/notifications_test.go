package repository_test

import (
	"context"
	"testing"

	"github.com/Ghostrayu/xahpayroll-sub003/repository"
	"github.com/Ghostrayu/xahpayroll-sub003/repository/models"
	"github.com/Ghostrayu/xahpayroll-sub003/repository/repotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func closureRequest(channelID string) *models.Notification {
	return &models.Notification{
		Type:            models.NotificationClosureRequest,
		ChannelID:       channelID,
		SenderWallet:    repotest.OrgWallet,
		RecipientWallet: repotest.WorkerWallet,
		Message:         "please close",
	}
}

func TestOnePendingClosureRequestPerChannel(t *testing.T) {
	repo := repotest.New(t)
	channelID := repotest.ChannelID(1)

	first := closureRequest(channelID)
	require.Nil(t, repo.InTx(context.Background(), func(tx *repository.Tx) *repository.RepositoryError {
		return tx.CreateNotification(first)
	}))

	repoErr := repo.InTx(context.Background(), func(tx *repository.Tx) *repository.RepositoryError {
		return tx.CreateNotification(closureRequest(channelID))
	})
	assert.True(t, repository.IsCode(repoErr, "REQUEST_ALREADY_PENDING"))

	// Once dismissed a new request may be raised
	require.Nil(t, repo.InTx(context.Background(), func(tx *repository.Tx) *repository.RepositoryError {
		return tx.DismissClosureRequest(first.ID)
	}))
	require.Nil(t, repo.InTx(context.Background(), func(tx *repository.Tx) *repository.RepositoryError {
		return tx.CreateNotification(closureRequest(channelID))
	}))
}

func TestResolveClosureRequests(t *testing.T) {
	repo := repotest.New(t)
	channelID := repotest.ChannelID(2)
	hash := repotest.TxHash(2)

	approved := closureRequest(channelID)
	require.Nil(t, repo.InTx(context.Background(), func(tx *repository.Tx) *repository.RepositoryError {
		if repoErr := tx.CreateNotification(approved); repoErr != nil {
			return repoErr
		}
		return tx.ApproveClosureRequest(approved.ID, testNow)
	}))
	pending := closureRequest(channelID)
	require.Nil(t, repo.InTx(context.Background(), func(tx *repository.Tx) *repository.RepositoryError {
		return tx.CreateNotification(pending)
	}))

	require.Nil(t, repo.InTx(context.Background(), func(tx *repository.Tx) *repository.RepositoryError {
		return tx.ResolveClosureRequests(channelID, hash)
	}))

	read := repo.Read(context.Background())
	stamped, repoErr := read.NotificationByID(approved.ID, false)
	require.Nil(t, repoErr)
	require.NotNil(t, stamped.ClosureTxHash)
	assert.Equal(t, hash, *stamped.ClosureTxHash)

	dismissed, repoErr := read.NotificationByID(pending.ID, false)
	require.Nil(t, repoErr)
	assert.True(t, dismissed.Dismissed)

	open, repoErr := read.PendingClosureRequest(channelID)
	require.Nil(t, repoErr)
	assert.Nil(t, open)
}

func TestApproveClosureRequestOnlyOnce(t *testing.T) {
	repo := repotest.New(t)
	request := closureRequest(repotest.ChannelID(3))
	require.Nil(t, repo.InTx(context.Background(), func(tx *repository.Tx) *repository.RepositoryError {
		if repoErr := tx.CreateNotification(request); repoErr != nil {
			return repoErr
		}
		return tx.ApproveClosureRequest(request.ID, testNow)
	}))

	repoErr := repo.InTx(context.Background(), func(tx *repository.Tx) *repository.RepositoryError {
		return tx.ApproveClosureRequest(request.ID, testNow)
	})
	assert.True(t, repository.IsCode(repoErr, "ALREADY_APPROVED"))
}
