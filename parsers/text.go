// Dropwatch
// Copyright (c) 2025, DCSO GmbH

package parsers

import (
	"strings"
	"unicode/utf8"
)

const separatorRunes = "=-_*#|~"

// SanitizeText makes raw file content safe to parse and store: NUL bytes
// are removed, invalid UTF-8 is dropped and line endings are normalized.
func SanitizeText(raw []byte) string {
	s := string(raw)
	s = strings.TrimPrefix(s, "\ufeff")
	s = strings.ReplaceAll(s, "\x00", "")
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// isSeparator reports whether a line consists of a single repeated symbol,
// at least five long.
func isSeparator(line string) bool {
	line = strings.TrimSpace(line)
	if len(line) < 5 {
		return false
	}
	first := rune(line[0])
	if !strings.ContainsRune(separatorRunes, first) {
		return false
	}
	for _, r := range line {
		if r != first {
			return false
		}
	}
	return true
}

func lines(text string) []string {
	return strings.Split(text, "\n")
}

// blankBlocks splits text into groups of non-empty lines separated by
// blank lines.
func blankBlocks(text string) [][]string {
	var blocks [][]string
	var cur []string
	for _, l := range lines(text) {
		l = strings.TrimSpace(l)
		if l == "" {
			if len(cur) > 0 {
				blocks = append(blocks, cur)
				cur = nil
			}
			continue
		}
		cur = append(cur, l)
	}
	if len(cur) > 0 {
		blocks = append(blocks, cur)
	}
	return blocks
}

// separatorBlocks splits text on separator lines. It returns nil if the text
// has no separator line at all.
func separatorBlocks(text string) [][]string {
	var blocks [][]string
	var cur []string
	found := false
	for _, l := range lines(text) {
		l = strings.TrimSpace(l)
		if isSeparator(l) {
			found = true
			if len(cur) > 0 {
				blocks = append(blocks, cur)
				cur = nil
			}
			continue
		}
		if l != "" {
			cur = append(cur, l)
		}
	}
	if !found {
		return nil
	}
	if len(cur) > 0 {
		blocks = append(blocks, cur)
	}
	return blocks
}

func hasSeparator(text string) bool {
	for _, l := range lines(text) {
		if isSeparator(l) {
			return true
		}
	}
	return false
}

// splitKV splits "key<sep>value" at the first sep. The key is lowercased
// and whitespace-collapsed.
func splitKV(line, sep string) (string, string, bool) {
	i := strings.Index(line, sep)
	if i <= 0 {
		return "", "", false
	}
	key := strings.Join(strings.Fields(strings.ToLower(line[:i])), " ")
	if key == "" {
		return "", "", false
	}
	return key, strings.TrimSpace(line[i+len(sep):]), true
}

// fieldSet maps canonical field names to values for one record.
type fieldSet map[string]string

// collect maps the key/value lines of a block through aliases. The second
// return value is false if a canonical field occurs twice.
func collect(block []string, aliases map[string]string) (fieldSet, bool) {
	fs := make(fieldSet)
	for _, l := range block {
		k, v, ok := splitKV(l, ":")
		if !ok {
			continue
		}
		canon, known := aliases[k]
		if !known {
			continue
		}
		if _, dup := fs[canon]; dup {
			return fs, false
		}
		fs[canon] = v
	}
	return fs, true
}

// sequential walks key/value lines and starts a new field set each time a
// canonical field repeats.
func sequential(ls []string, aliases map[string]string) []fieldSet {
	var out []fieldSet
	cur := make(fieldSet)
	for _, l := range ls {
		k, v, ok := splitKV(strings.TrimSpace(l), ":")
		if !ok {
			continue
		}
		canon, known := aliases[k]
		if !known {
			continue
		}
		if _, dup := cur[canon]; dup {
			out = append(out, cur)
			cur = make(fieldSet)
		}
		cur[canon] = v
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}
