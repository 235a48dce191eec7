// Package ledgertest provides an in-memory ledger for tests
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Ghostrayu/xahpayroll-sub003/ledger"
)

// ErrUnavailable is what the fake returns while Down is set
var ErrUnavailable = errors.New("ledgertest: node unavailable")

// Ledger is a scripted ledger.Client
type Ledger struct {
	mu           sync.Mutex
	channels     map[string]ledger.ChannelEntry
	transactions map[string]ledger.Transaction
	down         bool
	calls        map[string]int
}

var _ ledger.Client = (*Ledger)(nil)

func New() *Ledger {
	return &Ledger{
		channels:     make(map[string]ledger.ChannelEntry),
		transactions: make(map[string]ledger.Transaction),
		calls:        make(map[string]int),
	}
}

// PutChannel adds or replaces a channel object
func (l *Ledger) PutChannel(entry ledger.ChannelEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.channels[strings.ToUpper(entry.ChannelID)] = entry
}

// RemoveChannel deletes a channel object
func (l *Ledger) RemoveChannel(channelID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.channels, strings.ToUpper(channelID))
}

// PutTransaction records a transaction result
func (l *Ledger) PutTransaction(tx ledger.Transaction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transactions[strings.ToUpper(tx.Hash)] = tx
}

// SetDown makes every call fail as if the node were unreachable
func (l *Ledger) SetDown(down bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.down = down
}

// Calls returns how many times method was called
func (l *Ledger) Calls(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[method]
}

func (l *Ledger) enter(method string) error {
	l.calls[method]++
	if l.down {
		return ErrUnavailable
	}
	return nil
}

func (l *Ledger) AccountChannels(_ context.Context, account string) ([]ledger.ChannelEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter("account_channels"); err != nil {
		return nil, err
	}
	var out []ledger.ChannelEntry
	for _, ch := range l.channels {
		if ch.Account == account {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (l *Ledger) GetTransaction(_ context.Context, hash string) (*ledger.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter("tx"); err != nil {
		return nil, err
	}
	tx, ok := l.transactions[strings.ToUpper(hash)]
	if !ok {
		return nil, fmt.Errorf("tx: %w", ledger.ErrNotFound)
	}
	return &tx, nil
}

func (l *Ledger) GetChannelEntry(_ context.Context, channelID string) (*ledger.ChannelEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enter("ledger_entry"); err != nil {
		return nil, err
	}
	ch, ok := l.channels[strings.ToUpper(channelID)]
	if !ok {
		return nil, fmt.Errorf("ledger_entry: %w", ledger.ErrNotFound)
	}
	return &ch, nil
}
