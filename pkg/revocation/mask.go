package revocation

const (
	maskMarker = "***"

	// maskKeep is how many characters stay visible at each end
	maskKeep = 4
	// maskMinHidden is the least number of characters a mask must hide
	maskMinHidden = 4
)

// MaskToken hides all but the first and last four characters of a token.
// Tokens too short to hide at least four characters are replaced entirely.
func MaskToken(token string) string {
	if len(token) < 2*maskKeep+maskMinHidden {
		return maskMarker
	}
	return token[:maskKeep] + maskMarker + token[len(token)-maskKeep:]
}
