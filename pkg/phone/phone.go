// Package phone normalizes caller numbers to E.164.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion reads national-format numbers as North American.
const DefaultRegion = "US"

// Normalize converts a raw caller number to E.164 using DefaultRegion.
func Normalize(raw string) string {
	return NormalizeIn(raw, DefaultRegion)
}

// NormalizeIn converts a raw caller number to E.164, reading national
// formats, trunk and international dialing prefixes for region. Input that
// is not a full number (short codes, local-only digits) is returned as
// digits only; input without digits yields "".
func NormalizeIn(raw, region string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	region = strings.ToUpper(strings.TrimSpace(region))
	if region == "" {
		region = DefaultRegion
	}
	if num, err := phonenumbers.Parse(raw, region); err == nil &&
		phonenumbers.IsPossibleNumberWithReason(num) == phonenumbers.IS_POSSIBLE {
		return phonenumbers.Format(num, phonenumbers.E164)
	}
	return digitsOnly(raw)
}

func digitsOnly(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
