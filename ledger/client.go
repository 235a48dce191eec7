// Package ledger talks to the external payment-channel ledger. It never signs
// or submits transactions; it only reads ledger truth and builds templates
// for an external wallet to sign.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ResultSuccess is the engine result code of an applied transaction
const ResultSuccess = "tesSUCCESS"

// ErrNotFound is returned when the ledger answers that the transaction or
// ledger entry does not exist. Any other error means the ledger could not be
// asked and must not be read as an answer.
var ErrNotFound = errors.New("ledger: not found")

// Client is the subset of the ledger RPC the engine depends on
type Client interface {
	// AccountChannels lists every open channel whose source is account
	AccountChannels(ctx context.Context, account string) ([]ChannelEntry, error)
	// GetTransaction looks up a transaction by hash
	GetTransaction(ctx context.Context, hash string) (*Transaction, error)
	// GetChannelEntry reads a channel object from the validated ledger
	GetChannelEntry(ctx context.Context, channelID string) (*ChannelEntry, error)
}

// ChannelEntry is a payment channel as stored on the ledger, amounts in XAH
type ChannelEntry struct {
	ChannelID   string
	Account     string
	Destination string
	Amount      decimal.Decimal
	Balance     decimal.Decimal
	SettleDelay int64
	Expiration  *time.Time
	CancelAfter *time.Time
	PublicKey   string
}

// Transaction is what the engine needs to know about a submitted transaction
type Transaction struct {
	Hash            string
	Type            string
	Account         string
	Destination     string
	Channel         string
	Amount          decimal.Decimal
	Balance         decimal.Decimal
	Flags           uint32
	Validated       bool
	ResultCode      string
	CreatedChannels []string
	DeletedChannels []string
}

// Succeeded reports whether the transaction is final and applied
func (t *Transaction) Succeeded() bool {
	return t != nil && t.Validated && t.ResultCode == ResultSuccess
}

// TouchesChannel reports whether the transaction references or removed the channel
func (t *Transaction) TouchesChannel(channelID string) bool {
	if t == nil {
		return false
	}
	if equalHex(t.Channel, channelID) {
		return true
	}
	for _, id := range t.DeletedChannels {
		if equalHex(id, channelID) {
			return true
		}
	}
	return false
}
