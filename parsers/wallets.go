// Dropwatch
// Copyright (c) 2025, DCSO GmbH

package parsers

import (
	"regexp"
	"strings"

	"github.com/DCSO/dropwatch/records"
)

var (
	walletAliases = map[string]string{
		"address":         "address",
		"wallet address":  "address",
		"addr":            "address",
		"mnemonic":        "mnemonic",
		"seed":            "mnemonic",
		"seed phrase":     "mnemonic",
		"phrase":          "mnemonic",
		"recovery phrase": "mnemonic",
		"private key":     "key",
		"privatekey":      "key",
		"private":         "key",
		"password":        "password",
		"pass":            "password",
		"path":            "path",
		"derivation path": "path",
		"type":            "type",
		"coin":            "type",
		"wallet":          "type",
	}

	btcLegacyReg = regexp.MustCompile(`\b[13][a-km-zA-HJ-NP-Z1-9]{25,34}\b`)
	btcSegwitReg = regexp.MustCompile(`\bbc1[a-z0-9]{39,59}\b`)
	evmAddrReg   = regexp.MustCompile(`\b0x[a-fA-F0-9]{40}\b`)
	privKeyReg   = regexp.MustCompile(`\b(?:0x)?[a-fA-F0-9]{64}\b`)
	mnemonicWord = regexp.MustCompile(`^[a-z]{3,8}$`)
)

var mnemonicLengths = map[int]bool{12: true, 15: true, 18: true, 21: true, 24: true}

// IsMnemonic reports whether s is shaped like a BIP-39 phrase: 12, 15, 18,
// 21 or 24 lowercase words. Callers lowercase the text first.
func IsMnemonic(s string) bool {
	words := strings.Fields(s)
	if !mnemonicLengths[len(words)] {
		return false
	}
	for _, w := range words {
		if !mnemonicWord.MatchString(w) {
			return false
		}
	}
	return true
}

// parseWalletsStructured reads "Address: / Mnemonic: / Private Key:" style
// blocks.
func parseWalletsStructured(text string) []records.Wallet {
	var out []records.Wallet
	for _, fs := range sequential(lines(text), walletAliases) {
		mnemonic := fs["mnemonic"]
		if mnemonic != "" && !IsMnemonic(strings.ToLower(mnemonic)) {
			mnemonic = ""
		}
		key := fs["key"]
		if key != "" && !privKeyReg.MatchString(key) {
			key = ""
		}
		w, err := records.NewWallet(records.WalletSecrets{
			Type:           fs["type"],
			Address:        fs["address"],
			Mnemonic:       mnemonic,
			PrivateKey:     key,
			Password:       fs["password"],
			DerivationPath: fs["path"],
		})
		if err != nil {
			continue
		}
		out = append(out, w)
	}
	return out
}

// parseWalletsScan looks for mnemonic lines, addresses and private keys
// anywhere in the text.
func parseWalletsScan(text string) []records.Wallet {
	var out []records.Wallet
	add := func(s records.WalletSecrets) {
		if w, err := records.NewWallet(s); err == nil {
			out = append(out, w)
		}
	}
	for _, l := range lines(text) {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if IsMnemonic(strings.ToLower(l)) {
			add(records.WalletSecrets{Mnemonic: l})
			continue
		}
		for _, a := range evmAddrReg.FindAllString(l, -1) {
			add(records.WalletSecrets{Type: records.WalletETH, Address: a})
		}
		for _, a := range btcSegwitReg.FindAllString(l, -1) {
			add(records.WalletSecrets{Type: records.WalletBTC, Address: a})
		}
		for _, a := range btcLegacyReg.FindAllString(l, -1) {
			add(records.WalletSecrets{Type: records.WalletBTC, Address: a})
		}
		for _, k := range privKeyReg.FindAllString(l, -1) {
			add(records.WalletSecrets{PrivateKey: k})
		}
	}
	return out
}

// Wallets merges structured and scanned wallet artifacts.
var Wallets = NewUnionChain("wallets", records.Wallet.Key,
	NewDialect("structured", parseWalletsStructured),
	NewDialect("scan", parseWalletsScan),
)

// ParseWallets returns the distinct wallet artifacts of a wallet file. A
// lone address or key that is already part of a structured record is not
// reported again.
func ParseWallets(text string) Result[records.Wallet] {
	res := Wallets.Parse(text)
	parts := func(w records.Wallet) []string {
		var p []string
		for _, v := range []string{w.Address, w.MnemonicHash, w.PrivateKeyHash} {
			if v != "" {
				p = append(p, v)
			}
		}
		return p
	}
	covered := make(map[string]bool)
	for _, w := range res.Records {
		if p := parts(w); len(p) > 1 {
			for _, v := range p {
				covered[v] = true
			}
		}
	}
	out := res.Records[:0]
	for _, w := range res.Records {
		if p := parts(w); len(p) == 1 && covered[p[0]] {
			continue
		}
		out = append(out, w)
	}
	res.Records = out
	return res
}
