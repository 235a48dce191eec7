package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RippleEpochOffset is the number of seconds between the Unix epoch and the
// ledger epoch (2000-01-01T00:00:00Z)
const RippleEpochOffset int64 = 946684800

// DropsPerXAH is the number of drops in one display unit
const DropsPerXAH = 1_000_000

// RippleTimeToUnix converts a ledger timestamp to wall time
func RippleTimeToUnix(seconds int64) time.Time {
	return time.Unix(seconds+RippleEpochOffset, 0).UTC()
}

// UnixToRippleTime converts wall time to a ledger timestamp
func UnixToRippleTime(t time.Time) int64 {
	return t.Unix() - RippleEpochOffset
}

// DropsToXAH parses an integer drops string into display units
func DropsToXAH(drops string) (decimal.Decimal, error) {
	if drops == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(drops)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse drops %q: %w", drops, err)
	}
	return d.Shift(-6), nil
}

// XAHToDrops renders a display amount as integer drops, truncating dust
func XAHToDrops(amount decimal.Decimal) string {
	return amount.Shift(6).Truncate(0).String()
}

func equalHex(a, b string) bool {
	return a != "" && strings.EqualFold(a, b)
}
