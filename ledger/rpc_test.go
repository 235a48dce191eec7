package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testChannel = "C7F634794B79DB40E87179A9D1BF05D05797AE7E92DF8E93FD6656E8C4BE3AE7"
	testSource  = "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"
	testDest    = "rPT1Sjq2YGrBMTttX4GZHjKu9dyfzbpAYe"
)

// newNode serves canned JSON-RPC results keyed by method
func newNode(t *testing.T, handler func(method string, params map[string]any) any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string           `json:"method"`
			Params []map[string]any `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Params, 1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"result": handler(req.Method, req.Params[0])})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGetTransactionParsesClosingClaim(t *testing.T) {
	srv := newNode(t, func(method string, params map[string]any) any {
		assert.Equal(t, "tx", method)
		assert.Equal(t, "ABC", params["transaction"])
		return map[string]any{
			"status":          "success",
			"hash":            "ABC",
			"TransactionType": "PaymentChannelClaim",
			"Account":         testSource,
			"Channel":         testChannel,
			"Balance":         "12500000",
			"Amount":          "100000000",
			"Flags":           TfClose,
			"validated":       true,
			"meta": map[string]any{
				"TransactionResult": "tesSUCCESS",
				"AffectedNodes": []any{
					map[string]any{"DeletedNode": map[string]any{"LedgerEntryType": "PayChannel", "LedgerIndex": testChannel}},
					map[string]any{"ModifiedNode": map[string]any{"LedgerEntryType": "AccountRoot"}},
				},
			},
		}
	})

	client := NewRPCClient(srv.URL, time.Second)
	tx, err := client.GetTransaction(context.Background(), "ABC")
	require.NoError(t, err)
	assert.True(t, tx.Succeeded())
	assert.True(t, tx.TouchesChannel(testChannel))
	assert.Equal(t, []string{testChannel}, tx.DeletedChannels)
	assert.True(t, decimal.RequireFromString("12.5").Equal(tx.Balance))
	assert.True(t, decimal.NewFromInt(100).Equal(tx.Amount))
	assert.Equal(t, TfClose, tx.Flags)
}

func TestGetTransactionNotFound(t *testing.T) {
	srv := newNode(t, func(string, map[string]any) any {
		return map[string]any{"status": "error", "error": "txnNotFound", "error_message": "Transaction not found."}
	})

	_, err := NewRPCClient(srv.URL, time.Second).GetTransaction(context.Background(), "ABC")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestNodeErrorsAreNotNotFound(t *testing.T) {
	srv := newNode(t, func(string, map[string]any) any {
		return map[string]any{"status": "error", "error": "tooBusy", "error_message": "The server is too busy"}
	})

	_, err := NewRPCClient(srv.URL, time.Second).GetChannelEntry(context.Background(), testChannel)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestHTTPFailureIsNotNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewRPCClient(srv.URL, time.Second).GetTransaction(context.Background(), "ABC")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestGetChannelEntry(t *testing.T) {
	srv := newNode(t, func(method string, params map[string]any) any {
		assert.Equal(t, "ledger_entry", method)
		assert.Equal(t, testChannel, params["payment_channel"])
		return map[string]any{
			"status": "success",
			"node": map[string]any{
				"Account":     testSource,
				"Destination": testDest,
				"Amount":      "100000000",
				"Balance":     "2000000",
				"SettleDelay": 86400,
				"Expiration":  800000000,
			},
		}
	})

	entry, err := NewRPCClient(srv.URL, time.Second).GetChannelEntry(context.Background(), testChannel)
	require.NoError(t, err)
	assert.Equal(t, testSource, entry.Account)
	assert.Equal(t, testDest, entry.Destination)
	assert.True(t, decimal.NewFromInt(100).Equal(entry.Amount))
	assert.True(t, decimal.NewFromInt(2).Equal(entry.Balance))
	assert.Equal(t, int64(86400), entry.SettleDelay)
	require.NotNil(t, entry.Expiration)
	assert.Equal(t, RippleTimeToUnix(800000000), *entry.Expiration)
	assert.Nil(t, entry.CancelAfter)
}

func TestAccountChannelsFollowsMarker(t *testing.T) {
	calls := 0
	srv := newNode(t, func(method string, params map[string]any) any {
		assert.Equal(t, "account_channels", method)
		calls++
		if calls == 1 {
			assert.Nil(t, params["marker"])
			return map[string]any{
				"status": "success",
				"channels": []any{
					map[string]any{"channel_id": testChannel, "account": testSource, "destination_account": testDest, "amount": "5000000", "balance": "0", "settle_delay": 60},
				},
				"marker": "page-2",
			}
		}
		assert.Equal(t, "page-2", params["marker"])
		return map[string]any{
			"status": "success",
			"channels": []any{
				map[string]any{"channel_id": "AB", "account": testSource, "destination_account": testDest, "amount": "1000000", "balance": "500000", "settle_delay": 60},
			},
		}
	})

	entries, err := NewRPCClient(srv.URL, time.Second).AccountChannels(context.Background(), testSource)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 2, calls)
	assert.Equal(t, testChannel, entries[0].ChannelID)
	assert.True(t, decimal.NewFromInt(5).Equal(entries[0].Amount))
	assert.True(t, decimal.RequireFromString("0.5").Equal(entries[1].Balance))
}
