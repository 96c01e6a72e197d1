// Dropwatch
// Copyright (c) 2025, DCSO GmbH

// Package config loads the lookup tables used across the pipeline.
package config

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed tables.yaml
var defaultTables []byte

// StealerKeyword maps a lowercase substring to a malware family label.
type StealerKeyword struct {
	Keyword string `yaml:"keyword"`
	Family  string `yaml:"family"`
}

// Tables holds all configurable lookup tables.
type Tables struct {
	Stealers       []StealerKeyword `yaml:"stealers"`
	Passwords      []string         `yaml:"passwords"`
	TextExtensions []string         `yaml:"text_extensions"`
	MaxTextSize    int64            `yaml:"max_text_size"`

	// SHA256 is the hash of the YAML document the tables were read from.
	SHA256 string `yaml:"-"`
}

// Default returns the built-in tables.
func Default() *Tables {
	t, err := parse(defaultTables)
	if err != nil {
		panic(fmt.Sprintf("invalid built-in tables: %v", err))
	}
	return t
}

// Load reads tables from a YAML file. An empty path yields the defaults.
func Load(path string) (*Tables, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tables: %w", err)
	}
	return parse(raw)
}

func parse(raw []byte) (*Tables, error) {
	var t Tables
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("parse tables: %w", err)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	sum := sha256.Sum256(raw)
	t.SHA256 = hex.EncodeToString(sum[:])
	return &t, nil
}

func (t *Tables) validate() error {
	for i, s := range t.Stealers {
		if strings.TrimSpace(s.Keyword) == "" || strings.TrimSpace(s.Family) == "" {
			return fmt.Errorf("stealers[%d]: keyword and family are required", i)
		}
		t.Stealers[i].Keyword = strings.ToLower(s.Keyword)
	}
	for i, e := range t.TextExtensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		t.TextExtensions[i] = e
	}
	if t.MaxTextSize <= 0 {
		t.MaxTextSize = 1 << 20
	}
	return nil
}

// StealerFromText returns the family of the first keyword contained in the
// lowercased text, or "".
func (t *Tables) StealerFromText(text string) string {
	lower := strings.ToLower(text)
	for _, s := range t.Stealers {
		if strings.Contains(lower, s.Keyword) {
			return s.Family
		}
	}
	return ""
}

// IsTextName reports whether a file name has one of the text extensions.
func (t *Tables) IsTextName(name string) bool {
	lower := strings.ToLower(name)
	for _, e := range t.TextExtensions {
		if strings.HasSuffix(lower, e) {
			return true
		}
	}
	return false
}
