// Dropwatch
// Copyright (c) 2025, DCSO GmbH

package pwarchive

import (
	"path/filepath"
	"regexp"
	"strings"
)

var (
	captionPasswordReg = regexp.MustCompile(`(?i)(?:pass(?:word)?|pwd|pw|пароль)\s*[:=\-]\s*(\S+)`)
	nameTokenReg       = regexp.MustCompile(`[\p{L}\p{N}@]+`)
)

// HintsFromName returns password candidates derived from an archive file
// name: the stem itself plus its alphanumeric tokens of at least three
// characters, e.g. "@cloudlogs_pass_infected.rar" yields "infected".
func HintsFromName(name string) []string {
	stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	var out []string
	seen := make(map[string]bool)
	add := func(s string) {
		if len(s) < 3 || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}
	for _, m := range captionPasswordReg.FindAllStringSubmatch(strings.ReplaceAll(stem, "_", " "), -1) {
		add(m[1])
	}
	for _, tok := range nameTokenReg.FindAllString(stem, -1) {
		add(tok)
		if strings.HasPrefix(tok, "@") {
			add(tok[1:])
		}
	}
	add(stem)
	return out
}

// HintsFromText extracts explicit passwords from free text such as a
// message caption ("Pass: infected").
func HintsFromText(text string) []string {
	var out []string
	for _, m := range captionPasswordReg.FindAllStringSubmatch(text, -1) {
		pw := strings.Trim(m[1], "`'\"*")
		if pw != "" {
			out = append(out, pw)
		}
	}
	return out
}
