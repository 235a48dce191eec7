package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RPCClient reaches a ledger node over its JSON-RPC HTTP interface
type RPCClient struct {
	url        string
	httpClient *http.Client
	pageLimit  int
}

// NewRPCClient creates a client for the node at url
func NewRPCClient(url string, timeout time.Duration) *RPCClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RPCClient{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		pageLimit: 200,
	}
}

type rpcRequest struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
}

type rpcEnvelope struct {
	Result json.RawMessage `json:"result"`
}

type rpcStatus struct {
	Status       string `json:"status"`
	Error        string `json:"error"`
	ErrorMessage string `json:"error_message"`
}

// call posts one request and decodes result into out
func (c *RPCClient) call(ctx context.Context, method string, params map[string]any, out any) error {
	payloadBytes, err := json.Marshal(rpcRequest{Method: method, Params: []any{params}})
	if err != nil {
		return fmt.Errorf("%s: serialize request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewBuffer(payloadBytes))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: node returned HTTP %d", method, resp.StatusCode)
	}

	var envelope rpcEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("%s: parse response: %w", method, err)
	}
	var status rpcStatus
	if err := json.Unmarshal(envelope.Result, &status); err != nil {
		return fmt.Errorf("%s: parse status: %w", method, err)
	}
	if status.Status == "error" || status.Error != "" {
		switch status.Error {
		case "txnNotFound", "entryNotFound", "actNotFound":
			return fmt.Errorf("%s: %w (%s)", method, ErrNotFound, status.Error)
		}
		return fmt.Errorf("%s: node error %s: %s", method, status.Error, status.ErrorMessage)
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("%s: parse result: %w", method, err)
	}
	return nil
}

type accountChannelsResult struct {
	Channels []struct {
		ChannelID          string `json:"channel_id"`
		Account            string `json:"account"`
		DestinationAccount string `json:"destination_account"`
		Amount             string `json:"amount"`
		Balance            string `json:"balance"`
		SettleDelay        int64  `json:"settle_delay"`
		Expiration         *int64 `json:"expiration"`
		CancelAfter        *int64 `json:"cancel_after"`
		PublicKey          string `json:"public_key"`
	} `json:"channels"`
	Marker json.RawMessage `json:"marker"`
}

// AccountChannels pages through account_channels until the marker runs out
func (c *RPCClient) AccountChannels(ctx context.Context, account string) ([]ChannelEntry, error) {
	var entries []ChannelEntry
	var marker json.RawMessage
	for {
		params := map[string]any{
			"account":      account,
			"ledger_index": "validated",
			"limit":        c.pageLimit,
		}
		if len(marker) > 0 {
			params["marker"] = marker
		}

		var result accountChannelsResult
		if err := c.call(ctx, "account_channels", params, &result); err != nil {
			return nil, err
		}
		for _, ch := range result.Channels {
			amount, err := DropsToXAH(ch.Amount)
			if err != nil {
				return nil, err
			}
			balance, err := DropsToXAH(ch.Balance)
			if err != nil {
				return nil, err
			}
			entries = append(entries, ChannelEntry{
				ChannelID:   ch.ChannelID,
				Account:     ch.Account,
				Destination: ch.DestinationAccount,
				Amount:      amount,
				Balance:     balance,
				SettleDelay: ch.SettleDelay,
				Expiration:  rippleTimePtr(ch.Expiration),
				CancelAfter: rippleTimePtr(ch.CancelAfter),
				PublicKey:   ch.PublicKey,
			})
		}
		if len(result.Marker) == 0 || string(result.Marker) == "null" {
			return entries, nil
		}
		marker = result.Marker
	}
}

type affectedNode struct {
	LedgerEntryType string `json:"LedgerEntryType"`
	LedgerIndex     string `json:"LedgerIndex"`
}

type txResult struct {
	Hash            string          `json:"hash"`
	TransactionType string          `json:"TransactionType"`
	Account         string          `json:"Account"`
	Destination     string          `json:"Destination"`
	Channel         string          `json:"Channel"`
	Amount          json.RawMessage `json:"Amount"`
	Balance         string          `json:"Balance"`
	Flags           uint32          `json:"Flags"`
	Validated       bool            `json:"validated"`
	Meta            *struct {
		TransactionResult string `json:"TransactionResult"`
		AffectedNodes     []struct {
			CreatedNode *affectedNode `json:"CreatedNode"`
			DeletedNode *affectedNode `json:"DeletedNode"`
		} `json:"AffectedNodes"`
	} `json:"meta"`
}

// GetTransaction looks up a transaction by hash
func (c *RPCClient) GetTransaction(ctx context.Context, hash string) (*Transaction, error) {
	var result txResult
	err := c.call(ctx, "tx", map[string]any{"transaction": hash, "binary": false}, &result)
	if err != nil {
		return nil, err
	}

	tx := &Transaction{
		Hash:        result.Hash,
		Type:        result.TransactionType,
		Account:     result.Account,
		Destination: result.Destination,
		Channel:     result.Channel,
		Flags:       result.Flags,
		Validated:   result.Validated,
	}
	// Non-native amounts are objects; they never fund a channel so they are ignored
	var drops string
	if len(result.Amount) > 0 && json.Unmarshal(result.Amount, &drops) == nil {
		if tx.Amount, err = DropsToXAH(drops); err != nil {
			return nil, err
		}
	}
	if tx.Balance, err = DropsToXAH(result.Balance); err != nil {
		return nil, err
	}
	if result.Meta != nil {
		tx.ResultCode = result.Meta.TransactionResult
		for _, node := range result.Meta.AffectedNodes {
			if node.CreatedNode != nil && node.CreatedNode.LedgerEntryType == "PayChannel" {
				tx.CreatedChannels = append(tx.CreatedChannels, node.CreatedNode.LedgerIndex)
			}
			if node.DeletedNode != nil && node.DeletedNode.LedgerEntryType == "PayChannel" {
				tx.DeletedChannels = append(tx.DeletedChannels, node.DeletedNode.LedgerIndex)
			}
		}
	}
	return tx, nil
}

type ledgerEntryResult struct {
	Node struct {
		Account     string `json:"Account"`
		Destination string `json:"Destination"`
		Amount      string `json:"Amount"`
		Balance     string `json:"Balance"`
		SettleDelay int64  `json:"SettleDelay"`
		Expiration  *int64 `json:"Expiration"`
		CancelAfter *int64 `json:"CancelAfter"`
		PublicKey   string `json:"PublicKey"`
	} `json:"node"`
}

// GetChannelEntry reads the channel object; ErrNotFound means it is gone
func (c *RPCClient) GetChannelEntry(ctx context.Context, channelID string) (*ChannelEntry, error) {
	var result ledgerEntryResult
	err := c.call(ctx, "ledger_entry", map[string]any{
		"payment_channel": channelID,
		"ledger_index":    "validated",
	}, &result)
	if err != nil {
		return nil, err
	}
	amount, err := DropsToXAH(result.Node.Amount)
	if err != nil {
		return nil, err
	}
	balance, err := DropsToXAH(result.Node.Balance)
	if err != nil {
		return nil, err
	}
	return &ChannelEntry{
		ChannelID:   channelID,
		Account:     result.Node.Account,
		Destination: result.Node.Destination,
		Amount:      amount,
		Balance:     balance,
		SettleDelay: result.Node.SettleDelay,
		Expiration:  rippleTimePtr(result.Node.Expiration),
		CancelAfter: rippleTimePtr(result.Node.CancelAfter),
		PublicKey:   result.Node.PublicKey,
	}, nil
}

func rippleTimePtr(seconds *int64) *time.Time {
	if seconds == nil {
		return nil
	}
	t := RippleTimeToUnix(*seconds)
	return &t
}
