// Dropwatch
// Copyright (c) 2025, DCSO GmbH

package parsers

import (
	"regexp"
	"strings"

	"github.com/DCSO/dropwatch/records"
)

var (
	softwareAliases = map[string]string{
		"name":            "name",
		"program":         "name",
		"displayname":     "name",
		"display name":    "name",
		"software":        "name",
		"application":     "name",
		"version":         "version",
		"displayversion":  "version",
		"display version": "version",
	}
	bracketEntryReg = regexp.MustCompile(`^(.+?)\s*\[([^\]]*)\]$`)
)

// trimBullet removes list numbering like "12) ", "3. " or "- ".
func trimBullet(s string) string {
	s = strings.TrimSpace(s)
	for i, r := range s {
		if r >= '0' && r <= '9' {
			continue
		}
		if i > 0 && (r == ')' || r == '.' || r == ':') {
			return strings.TrimSpace(s[i+1:])
		}
		break
	}
	return strings.TrimSpace(strings.TrimLeft(s, "-*• \t"))
}

// parseSoftwareKeyValue handles blocks like "Name: X / Version: Y".
func parseSoftwareKeyValue(text string) []records.Software {
	var out []records.Software
	for _, fs := range sequential(lines(text), softwareAliases) {
		sw, err := records.NewSoftware(fs["name"], fs["version"])
		if err != nil {
			continue
		}
		out = append(out, sw)
	}
	return out
}

// parseSoftwareBracket handles "1) Name [1.2.3]" lists and tab separated
// name/version pairs. At least one line must carry a version.
func parseSoftwareBracket(text string) []records.Software {
	var out []records.Software
	versioned := false
	for _, l := range lines(text) {
		l = trimBullet(l)
		if l == "" || isSeparator(l) {
			continue
		}
		var name, version string
		if m := bracketEntryReg.FindStringSubmatch(l); m != nil {
			name, version = m[1], m[2]
			versioned = true
		} else if parts := strings.SplitN(l, "\t", 2); len(parts) == 2 {
			name, version = parts[0], parts[1]
			versioned = true
		} else {
			name = l
		}
		sw, err := records.NewSoftware(name, version)
		if err != nil {
			continue
		}
		out = append(out, sw)
	}
	if !versioned {
		return nil
	}
	return out
}

// parseSoftwarePlain treats every remaining line as a program name. Header
// lines ending in ':' are skipped.
func parseSoftwarePlain(text string) []records.Software {
	var out []records.Software
	for _, l := range lines(text) {
		l = trimBullet(l)
		if l == "" || isSeparator(l) || strings.HasSuffix(l, ":") {
			continue
		}
		sw, err := records.NewSoftware(l, "")
		if err != nil {
			continue
		}
		out = append(out, sw)
	}
	return out
}

// Software is the installed software parser chain.
var Software = NewChain("software",
	NewDialect("key-value", parseSoftwareKeyValue),
	NewDialect("bracket-list", parseSoftwareBracket),
	NewDialect("plain-list", parseSoftwarePlain),
)

// ParseSoftware returns the distinct programs of a software list.
func ParseSoftware(text string) Result[records.Software] {
	res := Software.Parse(text)
	seen := make(map[string]struct{})
	out := res.Records[:0]
	for _, s := range res.Records {
		k := strings.ToLower(s.Name) + "\x00" + s.Version
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, s)
	}
	res.Records = out
	return res
}
