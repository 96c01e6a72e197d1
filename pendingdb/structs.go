// Dropwatch
// Copyright (c) 2025, DCSO GmbH

package pendingdb

import (
	"time"
)

// Status values of a pending archive. Extracted archives are removed from
// the database, so StatusExtracted is only seen in notifications.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusExtracted  = "extracted"
)

// Archive is the persisted state of a password-protected drop, keyed by
// FileHash.
type Archive struct {
	FilePath    string     `json:"file_path"`
	FileName    string     `json:"file_name"`
	FileHash    string     `json:"file_hash"`
	DetectedAt  time.Time  `json:"detected_at"`
	Source      string     `json:"source"`
	ChatID      *int64     `json:"chat_id,omitempty"`
	MessageID   *int64     `json:"message_id,omitempty"`
	Hints       []string   `json:"hints,omitempty"`
	Attempts    int        `json:"attempts"`
	LastAttempt *time.Time `json:"last_attempt,omitempty"`
	Status      string     `json:"status"`
}
