// Dropwatch
// Copyright (c) 2025, DCSO GmbH

package parsers

import (
	"github.com/DCSO/dropwatch/records"
)

var raccoonCardAliases = map[string]string{
	"cc number":   "number",
	"card":        "number",
	"card number": "number",
	"expiration":  "exp",
	"month":       "month",
	"year":        "year",
	"card holder": "holder",
	"cardholder":  "holder",
	"name":        "holder",
}

var redlineCardAliases = map[string]string{
	"card":        "number",
	"number":      "number",
	"card number": "number",
	"expire":      "exp",
	"expires":     "exp",
	"exp":         "exp",
	"holder":      "holder",
	"name":        "holder",
}

// parseCardsRaccoon expects blank-line separated blocks that carry number,
// expiry (either "m/y" or separate month and year) and holder.
func parseCardsRaccoon(text string) []records.Card {
	var out []records.Card
	for _, b := range blankBlocks(text) {
		fs, _ := collect(b, raccoonCardAliases)
		exp := fs["exp"]
		if exp == "" && fs["year"] != "" {
			exp = fs["year"]
			if fs["month"] != "" {
				exp = fs["month"] + "/" + fs["year"]
			}
		}
		if fs["number"] == "" || exp == "" || fs["holder"] == "" {
			continue
		}
		c, err := records.NewCard(fs["number"], exp, fs["holder"])
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out
}

// parseCardsRedLine expects "Card: / Expire: / Holder:" lines, one record
// per card number.
func parseCardsRedLine(text string) []records.Card {
	var out []records.Card
	for _, fs := range sequential(lines(text), redlineCardAliases) {
		c, err := records.NewCard(fs["number"], fs["exp"], fs["holder"])
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Cards is the payment card parser chain.
var Cards = NewChain("cards",
	NewDialect("raccoon", parseCardsRaccoon),
	NewDialect("redline", parseCardsRedLine),
)

// ParseCards returns the cards in a card file, one per card number.
func ParseCards(text string) Result[records.Card] {
	res := Cards.Parse(text)
	seen := make(map[string]struct{})
	out := res.Records[:0]
	for _, c := range res.Records {
		fp := c.Fingerprint()
		if _, ok := seen[fp]; ok {
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, c)
	}
	res.Records = out
	return res
}
