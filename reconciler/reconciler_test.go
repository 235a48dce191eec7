package reconciler_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Ghostrayu/xahpayroll-sub003/journal"
	"github.com/Ghostrayu/xahpayroll-sub003/ledger"
	"github.com/Ghostrayu/xahpayroll-sub003/ledger/ledgertest"
	"github.com/Ghostrayu/xahpayroll-sub003/notify"
	"github.com/Ghostrayu/xahpayroll-sub003/reconciler"
	"github.com/Ghostrayu/xahpayroll-sub003/repository"
	"github.com/Ghostrayu/xahpayroll-sub003/repository/models"
	"github.com/Ghostrayu/xahpayroll-sub003/repository/repotest"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc     *reconciler.Service
	repo    *repository.Repository
	ledger  *ledgertest.Ledger
	journal *journal.Journal
	parties repotest.Parties
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := cmtlog.NewNopLogger()
	repo := repotest.New(t)
	j, err := journal.Open("", logger)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	fake := ledgertest.New()
	notifier := notify.NewDispatcher(notify.NewDBSink(repo), logger)
	svc := reconciler.NewService(repo, fake, j, notifier, logger, reconciler.Config{StuckClosureAfter: time.Hour}, func() time.Time { return testNow })
	return &fixture{
		svc:     svc,
		repo:    repo,
		ledger:  fake,
		journal: j,
		parties: repotest.SeedParties(t, repo),
	}
}

func (f *fixture) putLedgerChannel(channelID, destination string, amount int64, expiration *time.Time) {
	f.ledger.PutChannel(ledger.ChannelEntry{
		ChannelID:   channelID,
		Account:     repotest.OrgWallet,
		Destination: destination,
		Amount:      decimal.NewFromInt(amount),
		Balance:     decimal.NewFromInt(1),
		SettleDelay: 600,
		Expiration:  expiration,
	})
}

func TestSyncAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	updated := repotest.SeedChannel(t, f.repo, f.parties, repotest.ChannelID(1))
	closed := repotest.SeedChannel(t, f.repo, f.parties, repotest.ChannelID(2),
		repotest.WithStatus(models.ChannelClosed), repotest.WithEscrow("50"))
	missing := repotest.SeedChannel(t, f.repo, f.parties, repotest.ChannelID(5))

	f.putLedgerChannel(repotest.ChannelID(1), repotest.WorkerWallet, 200, nil)
	f.putLedgerChannel(repotest.ChannelID(2), repotest.WorkerWallet, 75, nil)
	f.putLedgerChannel(repotest.ChannelID(3), repotest.WorkerWallet, 40, nil)
	f.putLedgerChannel(repotest.ChannelID(9), repotest.UnknownWallet, 10, nil)

	report, repoErr := f.svc.SyncAll(ctx, repotest.OrgWallet)
	require.Nil(t, repoErr)
	assert.Equal(t, 4, report.LedgerChannels)
	assert.Equal(t, []string{repotest.ChannelID(1)}, report.Updated)
	assert.Equal(t, []string{repotest.ChannelID(3)}, report.Imported)
	assert.Equal(t, []string{repotest.ChannelID(2)}, report.ClosedUnchanged)
	assert.Equal(t, []string{repotest.ChannelID(5)}, report.MissingOnLedger)
	assert.Empty(t, report.Errors)

	// A ledger channel paying an unknown wallet is reported, never imported
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, repotest.ChannelID(9), report.Skipped[0].ChannelID)
	assert.Equal(t, reconciler.ReasonWorkerNotFound, report.Skipped[0].Reason)
	_, repoErr = f.repo.Read(ctx).ChannelByLedgerID(repotest.ChannelID(9), false)
	assert.True(t, repository.IsCode(repoErr, "CHANNEL_NOT_FOUND"))

	assert.True(t, decimal.NewFromInt(200).Equal(repotest.Channel(t, f.repo, updated.ID).EscrowFundedAmount))

	// Closed records are not resurrected or refreshed
	stillClosed := repotest.Channel(t, f.repo, closed.ID)
	assert.Equal(t, models.ChannelClosed, stillClosed.Status)
	assert.True(t, decimal.NewFromInt(50).Equal(stillClosed.EscrowFundedAmount))

	assert.Equal(t, models.ChannelActive, repotest.Channel(t, f.repo, missing.ID).Status)

	imported, repoErr := f.repo.Read(ctx).ChannelByLedgerID(repotest.ChannelID(3), false)
	require.Nil(t, repoErr)
	assert.Equal(t, reconciler.ImportedJobName, imported.JobName)
	assert.True(t, imported.HourlyRate.IsZero())
	assert.True(t, decimal.NewFromInt(40).Equal(imported.EscrowFundedAmount))
	assert.Equal(t, f.parties.Worker.ID, imported.EmployeeID)

	reports, err := f.journal.SyncReports(repotest.OrgWallet, 10)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	var journaled reconciler.SyncReport
	require.NoError(t, json.Unmarshal(reports[0].Payload, &journaled))
	assert.Equal(t, report.Imported, journaled.Imported)
}

func TestSyncAllAttachesPendingRecord(t *testing.T) {
	f := newFixture(t)
	pending := repotest.SeedChannel(t, f.repo, f.parties, "", repotest.WithoutLedgerID())
	expiration := testNow.Add(time.Hour)
	f.putLedgerChannel(repotest.ChannelID(4), repotest.WorkerWallet, 120, &expiration)

	report, repoErr := f.svc.SyncAll(context.Background(), repotest.OrgWallet)
	require.Nil(t, repoErr)
	assert.Equal(t, []string{repotest.ChannelID(4)}, report.Updated)
	assert.Empty(t, report.Imported)

	attached := repotest.Channel(t, f.repo, pending.ID)
	assert.Equal(t, repotest.ChannelID(4), attached.LedgerID())
	assert.Equal(t, models.ChannelClosing, attached.Status)
	require.NotNil(t, attached.ExpirationTime)
}

func TestSyncAllLedgerUnavailable(t *testing.T) {
	f := newFixture(t)
	channel := repotest.SeedChannel(t, f.repo, f.parties, repotest.ChannelID(1))
	f.ledger.SetDown(true)

	_, repoErr := f.svc.SyncAll(context.Background(), repotest.OrgWallet)
	require.NotNil(t, repoErr)
	assert.Equal(t, "LEDGER_UNAVAILABLE", repoErr.Code)
	assert.Equal(t, models.ChannelActive, repotest.Channel(t, f.repo, channel.ID).Status)

	_, err := f.journal.Latest(journal.KindSync, repotest.OrgWallet)
	assert.ErrorIs(t, err, journal.ErrNotFound)
}

func TestSyncAllUnknownOrganization(t *testing.T) {
	f := newFixture(t)

	_, repoErr := f.svc.SyncAll(context.Background(), repotest.OtherWallet)
	require.NotNil(t, repoErr)
	assert.Equal(t, "ORGANIZATION_NOT_FOUND", repoErr.Code)
}

func TestSyncChannel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	channel := repotest.SeedChannel(t, f.repo, f.parties, repotest.ChannelID(1), repotest.WithBalance("4"))

	_, repoErr := f.svc.SyncChannel(ctx, channel.LedgerID())
	require.NotNil(t, repoErr)
	assert.Equal(t, reconciler.ReasonChannelNotOnLedger, repoErr.Code)
	assert.Equal(t, "4", repoErr.Data["accumulated_balance"])

	f.putLedgerChannel(channel.LedgerID(), repotest.WorkerWallet, 150, nil)
	updated, repoErr := f.svc.SyncChannel(ctx, channel.LedgerID())
	require.Nil(t, repoErr)
	assert.True(t, decimal.NewFromInt(150).Equal(updated.EscrowFundedAmount))
	assert.True(t, decimal.NewFromInt(4).Equal(updated.AccumulatedBalance))
	assert.NotNil(t, updated.LastLedgerSync)
}
