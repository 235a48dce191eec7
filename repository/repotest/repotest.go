// Package repotest opens a migrated in-memory store for tests and seeds the
// parties and channels they need
package repotest

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Ghostrayu/xahpayroll-sub003/repository"
	"github.com/Ghostrayu/xahpayroll-sub003/repository/models"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
)

// Wallets used across tests
const (
	OrgWallet     = "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"
	WorkerWallet  = "rPT1Sjq2YGrBMTttX4GZHjKu9dyfzbpAYe"
	OtherWallet   = "rGWrZyQqhTp9Xu7G5Pkayo7bXjH4k4QYpf"
	UnknownWallet = "rLHzPsX6oXkzU2qL12kHCH8G8cnZv1rBJh"
)

// New returns a migrated store backed by a private in-memory SQLite database
func New(t testing.TB) *repository.Repository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	repo, err := repository.Open(sqlite.Open(dsn), cmtlog.NewNopLogger())
	require.NoError(t, err)

	sqlDB, err := repo.DB().DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, repo.Migrate())
	return repo
}

// Parties is a seeded organization and worker
type Parties struct {
	Organization *models.Organization
	Worker       *models.Employee
}

// SeedParties creates the default organization and its worker
func SeedParties(t testing.TB, repo *repository.Repository) Parties {
	t.Helper()
	var p Parties
	repoErr := repo.InTx(context.Background(), func(tx *repository.Tx) *repository.RepositoryError {
		org, repoErr := tx.CreateOrganization("Acme Payroll", OrgWallet)
		if repoErr != nil {
			return repoErr
		}
		worker, repoErr := tx.CreateEmployee(org.ID, "Ada Worker", WorkerWallet)
		if repoErr != nil {
			return repoErr
		}
		p = Parties{Organization: org, Worker: worker}
		return nil
	})
	require.Nil(t, repoErr)
	return p
}

// ChannelID builds a deterministic 64-hex ledger channel id
func ChannelID(n int) string {
	return fmt.Sprintf("%064X", n)
}

// TxHash builds a deterministic 64-hex transaction hash
func TxHash(n int) string {
	return strings.Repeat("A", 48) + fmt.Sprintf("%016X", n)
}

// ChannelOption adjusts a channel before it is inserted
type ChannelOption func(*models.Channel)

func WithBalance(accumulated string) ChannelOption {
	return func(c *models.Channel) { c.AccumulatedBalance = decimal.RequireFromString(accumulated) }
}

func WithEscrow(escrow string) ChannelOption {
	return func(c *models.Channel) { c.EscrowFundedAmount = decimal.RequireFromString(escrow) }
}

func WithRate(rate string) ChannelOption {
	return func(c *models.Channel) { c.HourlyRate = decimal.RequireFromString(rate) }
}

func WithStatus(status string) ChannelOption {
	return func(c *models.Channel) { c.Status = status }
}

func WithClosureTx(hash string) ChannelOption {
	return func(c *models.Channel) { c.ClosureTxHash = &hash }
}

func WithLastValidation(at time.Time) ChannelOption {
	return func(c *models.Channel) { c.LastValidationAt = &at }
}

func WithoutLedgerID() ChannelOption {
	return func(c *models.Channel) { c.ChannelID = nil }
}

// SeedChannel inserts an active channel between the parties with 100 XAH of
// escrow at 10 XAH per hour unless options say otherwise
func SeedChannel(t testing.TB, repo *repository.Repository, p Parties, channelID string, opts ...ChannelOption) *models.Channel {
	t.Helper()
	id := channelID
	channel := &models.Channel{
		ChannelID:          &id,
		OrganizationID:     p.Organization.ID,
		EmployeeID:         p.Worker.ID,
		JobName:            "Warehouse shift",
		HourlyRate:         decimal.NewFromInt(10),
		MaxDailyHours:      decimal.NewFromInt(8),
		EscrowFundedAmount: decimal.NewFromInt(100),
		AccumulatedBalance: decimal.Zero,
		OnChainBalance:     decimal.Zero,
		HoursAccumulated:   decimal.Zero,
		Status:             models.ChannelActive,
		SettleDelaySeconds: 3600,
	}
	for _, opt := range opts {
		opt(channel)
	}
	repoErr := repo.InTx(context.Background(), func(tx *repository.Tx) *repository.RepositoryError {
		return tx.CreateChannel(channel)
	})
	require.Nil(t, repoErr)
	return channel
}

// Channel reloads a channel by its surrogate id
func Channel(t testing.TB, repo *repository.Repository, id string) *models.Channel {
	t.Helper()
	channel, repoErr := repo.Read(context.Background()).ChannelByID(id, false)
	require.Nil(t, repoErr)
	return channel
}
