// Dropwatch
// Copyright (c) 2025, DCSO GmbH

package parsers

import (
	"path"
	"strings"
)

var (
	passwordNames = map[string]bool{
		"passwords.txt":          true,
		"password.txt":           true,
		"all passwords.txt":      true,
		"_allpasswords_list.txt": true,
	}
	passwordKeywords = []string{"password", "pass", "login", "cred", "account"}

	systemNames = map[string]bool{
		"system.txt":          true,
		"systeminfo.txt":      true,
		"information.txt":     true,
		"userinformation.txt": true,
		"system_info.txt":     true,
	}

	softwareNames = map[string]bool{
		"installedsoftware.txt":  true,
		"installed_software.txt": true,
		"installedprograms.txt":  true,
		"installed_programs.txt": true,
		"software.txt":           true,
		"programs.txt":           true,
	}

	walletNames = map[string]bool{
		"mnemonic.txt": true,
		"seed.txt":     true,
		"wallet.txt":   true,
		"wallets.txt":  true,
		"metamask.txt": true,
		"exodus.txt":   true,
		"electrum.txt": true,
		"phantom.txt":  true,
		"trust.txt":    true,
		"private.txt":  true,
	}
	walletKeywords = []string{"wallet", "mnemonic", "seed", "private"}
)

func isTxt(name string) bool {
	return strings.HasSuffix(name, ".txt")
}

func containsAny(s string, subs []string) bool {
	for _, k := range subs {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// IsMarkerFile reports whether p has one of the well-known names that
// stealers write once per device, such as Passwords.txt or System.txt.
func IsMarkerFile(p string) bool {
	base := strings.ToLower(path.Base(p))
	return passwordNames[base] || systemNames[base] || softwareNames[base]
}

// IsSystemFile reports whether a slash separated path names a system
// fingerprint file.
func IsSystemFile(p string) bool {
	return systemNames[strings.ToLower(path.Base(p))]
}

// IsSoftwareFile reports whether p is an installed software list.
func IsSoftwareFile(p string) bool {
	base := strings.ToLower(path.Base(p))
	if softwareNames[base] {
		return true
	}
	return isTxt(base) && strings.Contains(base, "software")
}

// IsCardFile reports whether p holds payment cards: a text file named like
// "CC.txt" or placed in a card directory.
func IsCardFile(p string) bool {
	lower := strings.ToLower(p)
	base := path.Base(lower)
	if !isTxt(base) {
		return false
	}
	if strings.HasPrefix(base, "cc") || strings.Contains(base, "card") {
		return true
	}
	for _, dir := range strings.Split(path.Dir(lower), "/") {
		if dir == "cc" || strings.Contains(dir, "creditcard") || dir == "cards" {
			return true
		}
	}
	return false
}

// IsPasswordFile reports whether p is a credential dump.
func IsPasswordFile(p string) bool {
	base := strings.ToLower(path.Base(p))
	if passwordNames[base] {
		return true
	}
	if !isTxt(base) || IsCardFile(p) || IsSystemFile(p) {
		return false
	}
	return containsAny(base, passwordKeywords)
}

// IsWalletFile reports whether p looks like a wallet artifact dump.
func IsWalletFile(p string) bool {
	lower := strings.ToLower(p)
	base := path.Base(lower)
	if walletNames[base] {
		return true
	}
	if !isTxt(base) {
		return false
	}
	return containsAny(base, walletKeywords) || strings.Contains(path.Dir(lower), "wallet")
}
