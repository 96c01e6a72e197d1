// Dropwatch
// Copyright (c) 2025, DCSO GmbH

package records

import "time"

// Batch status values. A finished batch has exactly one of the terminal
// states.
const (
	BatchProcessing       = "processing"
	BatchCompleted        = "completed"
	BatchFailed           = "failed"
	BatchAwaitingPassword = "awaiting_password"
)

// HashInfo contains the hashes of an ingested archive.
type HashInfo struct {
	Md5      string
	Sha1     string
	Sha256   string
	Sha512   string
	Sha3_512 string
}

// Batch is the record of one archive ingestion.
type Batch struct {
	ID               string     `json:"upload_id"`
	Filename         string     `json:"filename"`
	Origin           string     `json:"origin,omitempty"`
	Status           string     `json:"status"`
	Layout           string     `json:"layout,omitempty"`
	DevicesFound     int        `json:"devices_found"`
	DevicesProcessed int        `json:"devices_processed"`
	DevicesSkipped   int        `json:"devices_skipped"`
	DevicesFailed    int        `json:"devices_failed"`
	Credentials      int        `json:"total_credentials"`
	Cards            int        `json:"total_cards"`
	Software         int        `json:"total_software"`
	Wallets          int        `json:"total_wallets"`
	Files            int        `json:"total_files"`
	MalformedEntries int        `json:"malformed_entries"`
	Hashes           HashInfo   `json:"hashes"`
	PendingDigest    string     `json:"pending_digest,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// Finish sets a terminal status and the completion time.
func (b *Batch) Finish(status string, errMsg string) {
	now := time.Now().UTC()
	b.Status = status
	b.ErrorMessage = errMsg
	b.CompletedAt = &now
}
