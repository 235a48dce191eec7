package notify_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Ghostrayu/xahpayroll-sub003/notify"
	"github.com/Ghostrayu/xahpayroll-sub003/repository/models"
	"github.com/Ghostrayu/xahpayroll-sub003/repository/repotest"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSink struct{ calls int }

func (s *failingSink) Notify(context.Context, notify.Event) error {
	s.calls++
	return errors.New("sink down")
}

func TestDispatchSwallowsSinkErrors(t *testing.T) {
	sink := &failingSink{}
	d := notify.NewDispatcher(sink, cmtlog.NewNopLogger())

	assert.False(t, d.Dispatch(context.Background(), notify.Event{Type: models.NotificationClosureFailed}))
	assert.Equal(t, 1, sink.calls)

	var nilDispatcher *notify.Dispatcher
	assert.False(t, nilDispatcher.Dispatch(context.Background(), notify.Event{}))
}

func TestDBSinkStoresNotification(t *testing.T) {
	repo := repotest.New(t)
	d := notify.NewDispatcher(notify.NewDBSink(repo), cmtlog.NewNopLogger())

	ok := d.Dispatch(context.Background(), notify.Event{
		Type:            models.NotificationClosureFailed,
		ChannelID:       repotest.ChannelID(1),
		SenderWallet:    repotest.WorkerWallet,
		RecipientWallet: repotest.OrgWallet,
		Message:         "closure failed",
		Data:            map[string]any{"reason": "not validated"},
	})
	require.True(t, ok)

	stored, repoErr := repo.Read(context.Background()).NotificationsFor(repotest.OrgWallet, true, 10)
	require.Nil(t, repoErr)
	require.Len(t, stored, 1)
	assert.Equal(t, models.NotificationClosureFailed, stored[0].Type)
	assert.JSONEq(t, `{"reason":"not validated"}`, stored[0].Data)
}
