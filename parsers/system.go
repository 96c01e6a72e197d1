// Dropwatch
// Copyright (c) 2025, DCSO GmbH

package parsers

import (
	"strings"

	"github.com/DCSO/dropwatch/records"
)

var systemAliases = map[string]string{
	"computer name":    "hostname",
	"computername":     "hostname",
	"machinename":      "hostname",
	"machine name":     "hostname",
	"pc name":          "hostname",
	"pc":               "hostname",
	"hostname":         "hostname",
	"host name":        "hostname",
	"ip":               "ip",
	"ip address":       "ip",
	"ipaddress":        "ip",
	"country":          "country",
	"country code":     "country",
	"location":         "country",
	"language":         "language",
	"current language": "language",
	"ui language":      "language",
	"system language":  "language",
	"os":               "os",
	"os version":       "os",
	"operation system": "os",
	"operating system": "os",
	"windows":          "os",
	"user name":        "username",
	"username":         "username",
	"user":             "username",
	"hwid":             "hwid",
	"machineid":        "hwid",
	"machine id":       "hwid",
	"antivirus":        "antivirus",
	"antiviruses":      "antivirus",
	"anti virus":       "antivirus",
	"av":               "antivirus",
	"log date":         "date",
	"date":             "date",
	"install date":     "date",
	"infection date":   "date",
	"local time":       "date",
	"stealer":          "stealer",
	"stealer family":   "stealer",
	"malware":          "stealer",
	"log by":           "stealer",
}

func systemInfoFrom(text, sep string) []records.SystemInfo {
	var si records.SystemInfo
	fields := map[string]*string{
		"hostname":  &si.Hostname,
		"ip":        &si.IP,
		"country":   &si.Country,
		"language":  &si.Language,
		"os":        &si.OS,
		"username":  &si.Username,
		"hwid":      &si.HWID,
		"antivirus": &si.Antivirus,
		"date":      &si.InfectionDate,
		"stealer":   &si.Stealer,
	}
	for _, l := range lines(text) {
		k, v, ok := splitKV(strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(l), "-*•")), sep)
		if !ok || v == "" {
			continue
		}
		canon, known := systemAliases[k]
		if !known {
			continue
		}
		// first occurrence wins
		if dst := fields[canon]; *dst == "" {
			*dst = v
		}
	}
	if si.Empty() {
		return nil
	}
	return []records.SystemInfo{si}
}

// System is the system fingerprint parser chain.
var System = NewChain("system",
	NewDialect("colon", func(text string) []records.SystemInfo {
		return systemInfoFrom(text, ":")
	}),
	NewDialect("equals", func(text string) []records.SystemInfo {
		return systemInfoFrom(text, "=")
	}),
)

// ParseSystem returns the fingerprint attributes of a system file.
func ParseSystem(text string) (records.SystemInfo, Outcome) {
	res := System.Parse(text)
	if len(res.Records) == 0 {
		return records.SystemInfo{}, res.Outcome
	}
	return res.Records[0], res.Outcome
}
