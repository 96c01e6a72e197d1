// Dropwatch
// Copyright (c) 2025, DCSO GmbH

package records

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Wallet types.
const (
	WalletETH     = "ETH"
	WalletBTC     = "BTC"
	WalletMulti   = "multi"
	WalletUnknown = "unknown"
)

// WalletSecrets is the raw input to NewWallet.
type WalletSecrets struct {
	Type           string
	Address        string
	Mnemonic       string
	PrivateKey     string
	Password       string
	DerivationPath string
}

// Wallet is a cryptocurrency wallet artifact. Mnemonic and private key are
// only kept as SHA-256 hashes.
type Wallet struct {
	Type           string `json:"wallet_type"`
	Address        string `json:"address,omitempty"`
	MnemonicHash   string `json:"mnemonic_hash,omitempty"`
	WordCount      int    `json:"word_count,omitempty"`
	PrivateKeyHash string `json:"private_key_hash,omitempty"`
	Password       string `json:"password,omitempty"`
	DerivationPath string `json:"derivation_path,omitempty"`
	SourceFile     string `json:"source_file,omitempty"`
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// NewWallet needs at least one of address, mnemonic or private key.
func NewWallet(s WalletSecrets) (Wallet, error) {
	addr := strings.TrimSpace(s.Address)
	mnemonic := strings.Join(strings.Fields(strings.ToLower(s.Mnemonic)), " ")
	key := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s.PrivateKey), "0x"))
	if addr == "" && mnemonic == "" && key == "" {
		return Wallet{}, ErrMissingField
	}
	w := Wallet{
		Type:           s.Type,
		Address:        addr,
		Password:       s.Password,
		DerivationPath: strings.TrimSpace(s.DerivationPath),
	}
	if mnemonic != "" {
		w.MnemonicHash = sha256Hex(mnemonic)
		w.WordCount = len(strings.Fields(mnemonic))
	}
	if key != "" {
		w.PrivateKeyHash = sha256Hex(key)
	}
	if w.Type == "" {
		w.Type = inferWalletType(addr, mnemonic != "")
	}
	return w, nil
}

func inferWalletType(addr string, hasMnemonic bool) string {
	switch {
	case strings.HasPrefix(addr, "0x"):
		return WalletETH
	case strings.HasPrefix(addr, "bc1"), strings.HasPrefix(addr, "1"), strings.HasPrefix(addr, "3"):
		return WalletBTC
	case hasMnemonic:
		return WalletMulti
	}
	return WalletUnknown
}

// Key identifies a wallet for duplicate elimination.
func (w Wallet) Key() string {
	return w.Address + "\x00" + w.MnemonicHash + "\x00" + w.PrivateKeyHash
}
