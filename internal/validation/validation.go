// Package validation contains input validation helpers.
package validation

import "unicode"

const referralCodeLength = 8

// IsValidReferralCode reports whether a referral code has the expected format:
// exactly eight upper-case letters or digits.
func IsValidReferralCode(code string) bool {
	if len(code) != referralCodeLength {
		return false
	}

	for _, ch := range code {
		if !unicode.IsDigit(ch) && !unicode.IsUpper(ch) {
			return false
		}
	}

	return true
}

// IsValidQuantity reports whether a quantity is usable for a cart line.
func IsValidQuantity(qty int) bool {
	return qty >= 1
}
