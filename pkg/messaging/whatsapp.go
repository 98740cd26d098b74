// Package messaging composes guardian notification deep-links.
package messaging

import (
	"net/url"
	"strings"
)

// PhoneRules is the numbering heuristic applied to guardian contacts.
type PhoneRules struct {
	CountryCode    string
	MobilePrefix   string
	LandlinePrefix string
}

// DefaultPhoneRules matches Chilean numbering.
var DefaultPhoneRules = PhoneRules{CountryCode: "56", MobilePrefix: "9", LandlinePrefix: "569"}

// Digits strips every non-digit rune.
func Digits(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizePhone keeps digits only, then prefixes local numbers:
// 9 digits starting with the mobile prefix get the country code,
// 8 digits get the landline prefix. Anything else is returned as digits.
// The result is a heuristic and is not checked against a numbering plan.
func NormalizePhone(raw string, rules PhoneRules) string {
	digits := Digits(raw)
	switch {
	case len(digits) == 9 && rules.MobilePrefix != "" && strings.HasPrefix(digits, rules.MobilePrefix):
		return rules.CountryCode + digits
	case len(digits) == 8:
		return rules.LandlinePrefix + digits
	default:
		return digits
	}
}

// BuildLink renders https://<host>/send?phone=<digits>&text=<encoded>.
func BuildLink(host, phone, text string) string {
	host = strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(host, "https://"), "http://"), "/")
	q := url.Values{}
	q.Set("phone", phone)
	q.Set("text", text)
	u := url.URL{Scheme: "https", Host: host, Path: "/send", RawQuery: q.Encode()}
	return u.String()
}
