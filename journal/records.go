package journal

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Verification is the outcome of checking a client-reported closure
// transaction against the ledger
type Verification struct {
	TxHash         string    `json:"tx_hash"`
	ChannelID      string    `json:"channel_id"`
	Role           string    `json:"role"`
	Validated      bool      `json:"validated"`
	ResultCode     string    `json:"result_code"`
	ChannelRemoved bool      `json:"channel_removed"`
	Outcome        string    `json:"outcome"`
	Reason         string    `json:"reason,omitempty"`
	At             time.Time `json:"at"`
}

// RecordVerification appends a verification outcome keyed by transaction hash
func (j *Journal) RecordVerification(v Verification) error {
	_, err := j.Append(KindVerification, strings.ToUpper(v.TxHash), v.At, v)
	return err
}

// Verifications returns every recorded check of a transaction, newest first
func (j *Journal) Verifications(txHash string, limit int) ([]Verification, error) {
	entries, err := j.List(KindVerification, strings.ToUpper(txHash), limit)
	if err != nil {
		return nil, err
	}
	out := make([]Verification, 0, len(entries))
	for _, e := range entries {
		var v Verification
		if err := json.Unmarshal(e.Payload, &v); err != nil {
			return nil, fmt.Errorf("decode verification: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

// RecordSync appends a reconciliation report for an organization wallet
func (j *Journal) RecordSync(organizationWallet string, at time.Time, report any) error {
	_, err := j.Append(KindSync, organizationWallet, at, report)
	return err
}

// SyncReports returns raw sync reports of an organization, newest first
func (j *Journal) SyncReports(organizationWallet string, limit int) ([]Entry, error) {
	return j.List(KindSync, organizationWallet, limit)
}

// Correction documents a balance correction and the evidence it relied on
type Correction struct {
	ChannelID       string    `json:"channel_id"`
	PreviousBalance string    `json:"previous_balance"`
	ClosureTxHash   string    `json:"closure_tx_hash,omitempty"`
	Evidence        string    `json:"evidence"`
	Operator        string    `json:"operator,omitempty"`
	At              time.Time `json:"at"`
}

// RecordCorrection appends a correction keyed by ledger channel id
func (j *Journal) RecordCorrection(c Correction) error {
	_, err := j.Append(KindCorrection, strings.ToUpper(c.ChannelID), c.At, c)
	return err
}

// Corrections lists the corrections applied to a channel, newest first
func (j *Journal) Corrections(channelID string, limit int) ([]Correction, error) {
	entries, err := j.List(KindCorrection, strings.ToUpper(channelID), limit)
	if err != nil {
		return nil, err
	}
	out := make([]Correction, 0, len(entries))
	for _, e := range entries {
		var c Correction
		if err := json.Unmarshal(e.Payload, &c); err != nil {
			return nil, fmt.Errorf("decode correction: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}
