// Dropwatch
// Copyright (c) 2025, DCSO GmbH

// Package records contains the normalized record types produced by the
// ingestion pipeline. Record values holding user data are only created
// through the validating New* constructors.
package records

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Device is a single compromised machine found in a drop.
type Device struct {
	Hash          string `json:"device_name_hash"`
	Name          string `json:"device_name"`
	Hostname      string `json:"hostname,omitempty"`
	IP            string `json:"ip,omitempty"`
	Country       string `json:"country,omitempty"`
	Language      string `json:"language,omitempty"`
	OS            string `json:"os_version,omitempty"`
	Username      string `json:"username,omitempty"`
	HWID          string `json:"hwid,omitempty"`
	Antivirus     string `json:"antivirus,omitempty"`
	Stealer       string `json:"stealer,omitempty"`
	InfectionDate string `json:"infection_date,omitempty"`
	BatchID       string `json:"upload_batch"`
	TotalFiles    int    `json:"total_files"`
	TotalCreds    int    `json:"total_credentials"`
	TotalDomains  int    `json:"total_domains"`
	TotalURLs     int    `json:"total_urls"`
}

// NormalizeDeviceName lowercases a device display name and collapses all
// runs of whitespace into a single space.
func NormalizeDeviceName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// DeviceHash returns the identity of a device: the hex SHA-256 of its
// normalized name.
func DeviceHash(name string) string {
	sum := sha256.Sum256([]byte(NormalizeDeviceName(name)))
	return hex.EncodeToString(sum[:])
}

// NewDevice creates a device with its hash derived from the display name.
func NewDevice(name, batchID string) Device {
	return Device{
		Hash:    DeviceHash(name),
		Name:    name,
		BatchID: batchID,
	}
}

// ApplySystemInfo copies fingerprint attributes onto the device. Empty
// fields in si leave the device untouched.
func (d *Device) ApplySystemInfo(si SystemInfo) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&d.Hostname, si.Hostname)
	set(&d.IP, si.IP)
	set(&d.Country, si.Country)
	set(&d.Language, si.Language)
	set(&d.OS, si.OS)
	set(&d.Username, si.Username)
	set(&d.HWID, si.HWID)
	set(&d.Antivirus, si.Antivirus)
	set(&d.InfectionDate, si.InfectionDate)
	set(&d.Stealer, si.Stealer)
}

// SystemInfo holds the attributes parsed from a system fingerprint file.
type SystemInfo struct {
	Hostname      string
	IP            string
	Country       string
	Language      string
	OS            string
	Username      string
	HWID          string
	Antivirus     string
	InfectionDate string
	Stealer       string
}

// Empty reports whether no attribute was recognized.
func (si SystemInfo) Empty() bool {
	return si == SystemInfo{}
}

// DeviceRecords is everything extracted for one device. It is committed as
// a single unit.
type DeviceRecords struct {
	Device      Device
	Credentials []Credential
	Cards       []Card
	Software    []Software
	Wallets     []Wallet
	Files       []FileNode
}

// Finalize computes the aggregate counters of the device from its records.
func (dr *DeviceRecords) Finalize() {
	domains := make(map[string]struct{})
	urls := make(map[string]struct{})
	for _, c := range dr.Credentials {
		if c.Domain != "" {
			domains[c.Domain] = struct{}{}
		}
		urls[c.URL] = struct{}{}
	}
	files := 0
	for _, f := range dr.Files {
		if !f.IsDir {
			files++
		}
	}
	dr.Device.TotalFiles = files
	dr.Device.TotalCreds = len(dr.Credentials)
	dr.Device.TotalDomains = len(domains)
	dr.Device.TotalURLs = len(urls)
}
