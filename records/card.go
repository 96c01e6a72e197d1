// Dropwatch
// Copyright (c) 2025, DCSO GmbH

package records

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
)

// ErrInvalidCard is returned for card numbers that are not 12 to 19 digits.
var ErrInvalidCard = errors.New("invalid card number")

// Card is a payment card found on a device. Only the masked number leaves
// this package.
type Card struct {
	Masked     string `json:"card_number_masked"`
	Brand      string `json:"card_type"`
	Expiration string `json:"expiration,omitempty"`
	Holder     string `json:"holder,omitempty"`
	SourceFile string `json:"source_file,omitempty"`

	number string
}

type brandRule struct {
	brand  string
	digits int
	lo, hi int
}

// brandRules is checked in order, first match wins.
var brandRules = []brandRule{
	{"Visa", 1, 4, 4},
	{"Mastercard", 2, 51, 55},
	{"Mastercard", 4, 2221, 2720},
	{"Amex", 2, 34, 34},
	{"Amex", 2, 37, 37},
	{"Discover", 4, 6011, 6011},
	{"Discover", 6, 622126, 622925},
	{"Discover", 3, 644, 649},
	{"Discover", 2, 65, 65},
	{"JCB", 4, 3528, 3589},
	{"Diners", 3, 300, 305},
	{"Diners", 2, 36, 36},
	{"Diners", 2, 38, 38},
}

// CardBrand returns the brand of a digit-only card number, or "Unknown".
func CardBrand(number string) string {
	for _, r := range brandRules {
		if len(number) < r.digits {
			continue
		}
		p, err := strconv.Atoi(number[:r.digits])
		if err != nil {
			return "Unknown"
		}
		if p >= r.lo && p <= r.hi {
			return r.brand
		}
	}
	return "Unknown"
}

// MaskCardNumber replaces all but the last four digits with '*'.
func MaskCardNumber(number string) string {
	if len(number) <= 4 {
		return number
	}
	return strings.Repeat("*", len(number)-4) + number[len(number)-4:]
}

// NewCard validates a card number (spaces and dashes are ignored) and
// builds the masked record.
func NewCard(number, expiration, holder string) (Card, error) {
	digits := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9':
			return r
		case r == ' ' || r == '-':
			return -1
		}
		return 'x'
	}, strings.TrimSpace(number))
	if len(digits) < 12 || len(digits) > 19 || strings.ContainsRune(digits, 'x') {
		return Card{}, ErrInvalidCard
	}
	return Card{
		Masked:     MaskCardNumber(digits),
		Brand:      CardBrand(digits),
		Expiration: strings.TrimSpace(expiration),
		Holder:     strings.TrimSpace(holder),
		number:     digits,
	}, nil
}

// Fingerprint identifies the full card number without exposing it.
func (c Card) Fingerprint() string {
	sum := sha256.Sum256([]byte(c.number))
	return hex.EncodeToString(sum[:])
}
