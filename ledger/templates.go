package ledger

import (
	"github.com/shopspring/decimal"
)

// TfClose asks the ledger to close the channel as part of a claim
const TfClose uint32 = 0x00020000

// ClaimTemplate is an unsigned PaymentChannelClaim for the external wallet.
// Balance is the cumulative amount delivered to the destination after the
// claim, in drops.
type ClaimTemplate struct {
	TransactionType string `json:"TransactionType"`
	Account         string `json:"Account,omitempty"`
	Channel         string `json:"Channel"`
	Balance         string `json:"Balance,omitempty"`
	Amount          string `json:"Amount,omitempty"`
	Flags           uint32 `json:"Flags"`
}

// NewCloseTemplate builds a claim that pays the destination up to balance and
// closes the channel
func NewCloseTemplate(account, channelID string, balance, amount decimal.Decimal) ClaimTemplate {
	t := ClaimTemplate{
		TransactionType: "PaymentChannelClaim",
		Account:         account,
		Channel:         channelID,
		Flags:           TfClose,
	}
	if balance.IsPositive() {
		t.Balance = XAHToDrops(balance)
		t.Amount = XAHToDrops(amount)
	}
	return t
}

// CreateTemplate is an unsigned PaymentChannelCreate for the external wallet
type CreateTemplate struct {
	TransactionType string `json:"TransactionType"`
	Account         string `json:"Account"`
	Destination     string `json:"Destination"`
	Amount          string `json:"Amount"`
	SettleDelay     int64  `json:"SettleDelay"`
	PublicKey       string `json:"PublicKey,omitempty"`
	CancelAfter     int64  `json:"CancelAfter,omitempty"`
}

// NewCreateTemplate builds a channel funding template; cancelAfter is a ledger
// timestamp or zero
func NewCreateTemplate(account, destination string, amount decimal.Decimal, settleDelay int64, publicKey string, cancelAfter int64) CreateTemplate {
	return CreateTemplate{
		TransactionType: "PaymentChannelCreate",
		Account:         account,
		Destination:     destination,
		Amount:          XAHToDrops(amount),
		SettleDelay:     settleDelay,
		PublicKey:       publicKey,
		CancelAfter:     cancelAfter,
	}
}
