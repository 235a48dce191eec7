package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRippleTime(t *testing.T) {
	epoch := RippleTimeToUnix(0)
	assert.Equal(t, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), epoch)

	now := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	assert.Equal(t, now, RippleTimeToUnix(UnixToRippleTime(now)))
}

func TestDrops(t *testing.T) {
	xah, err := DropsToXAH("1234567")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("1.234567").Equal(xah))

	zero, err := DropsToXAH("")
	require.NoError(t, err)
	assert.True(t, zero.IsZero())

	_, err = DropsToXAH("12XAH")
	assert.Error(t, err)

	// Sub-drop dust is dropped, never rounded up
	assert.Equal(t, "1500000", XAHToDrops(decimal.RequireFromString("1.5000009")))
	assert.Equal(t, "0", XAHToDrops(decimal.Zero))
}

func TestValidators(t *testing.T) {
	assert.True(t, IsValidAddress(testSource))
	assert.False(t, IsValidAddress("xHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"))
	assert.False(t, IsValidAddress("r0b9CJAWyB4rj91VRWn96DkukG4bwdtyTh"))
	assert.False(t, IsValidAddress("rShort"))

	assert.True(t, IsValidChannelID(testChannel))
	assert.False(t, IsValidChannelID(testChannel[:63]))
	assert.False(t, IsValidTxHash("Z"+testChannel[1:]))
}

func TestCloseTemplate(t *testing.T) {
	tmpl := NewCloseTemplate(testSource, testChannel, decimal.RequireFromString("12.5"), decimal.NewFromInt(100))
	assert.Equal(t, "PaymentChannelClaim", tmpl.TransactionType)
	assert.Equal(t, TfClose, tmpl.Flags)
	assert.Equal(t, "12500000", tmpl.Balance)
	assert.Equal(t, "100000000", tmpl.Amount)

	// Nothing owed: close without a claim
	empty := NewCloseTemplate(testDest, testChannel, decimal.Zero, decimal.NewFromInt(100))
	assert.Empty(t, empty.Balance)
	assert.Empty(t, empty.Amount)
}

func TestTransactionChecks(t *testing.T) {
	var missing *Transaction
	assert.False(t, missing.Succeeded())
	assert.False(t, missing.TouchesChannel(testChannel))

	pending := &Transaction{Validated: false, ResultCode: ResultSuccess, Channel: testChannel}
	assert.False(t, pending.Succeeded())
	assert.True(t, pending.TouchesChannel(testChannel))

	other := &Transaction{Validated: true, ResultCode: ResultSuccess, Channel: "AB"}
	assert.False(t, other.TouchesChannel(testChannel))
	assert.False(t, other.TouchesChannel(""))
}
