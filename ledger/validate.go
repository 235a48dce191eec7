package ledger

import "regexp"

var (
	addressPattern = regexp.MustCompile(`^r[1-9A-HJ-NP-Za-km-z]{24,34}$`)
	hash256Pattern = regexp.MustCompile(`^[0-9A-Fa-f]{64}$`)
)

// IsValidAddress checks the shape of a classic account address
func IsValidAddress(address string) bool {
	return addressPattern.MatchString(address)
}

// IsValidChannelID checks for a 64 character hex channel id
func IsValidChannelID(channelID string) bool {
	return hash256Pattern.MatchString(channelID)
}

// IsValidTxHash checks for a 64 character hex transaction hash
func IsValidTxHash(hash string) bool {
	return hash256Pattern.MatchString(hash)
}
