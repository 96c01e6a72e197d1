// Dropwatch
// Copyright (c) 2025, DCSO GmbH

package records

import "strings"

// Software is an installed program reported by the stealer.
type Software struct {
	Name       string `json:"software_name"`
	Version    string `json:"version,omitempty"`
	SourceFile string `json:"source_file,omitempty"`
}

// NewSoftware requires a non-empty name.
func NewSoftware(name, version string) (Software, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Software{}, ErrMissingField
	}
	return Software{Name: name, Version: strings.TrimSpace(version)}, nil
}
