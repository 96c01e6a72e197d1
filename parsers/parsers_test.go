// Dropwatch
// Copyright (c) 2025, DCSO GmbH

package parsers

import (
	"strings"
	"testing"

	"github.com/DCSO/dropwatch/records"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const blankLineCreds = `URL: https://www.example.com/login
USER: alice
PASS: hunter2

URL: https://mail.example.org
Username: bob@example.org
Password: pw2
Browser: Chrome

URL: https://nouser.example.net
PASS: lonely
`

const separatorCreds = `SOFT: Chrome (120.0)
URL: https://accounts.google.com/
USER: carol
PASS: pw3
===============
SOFT: Firefox
URL: android://abc==@com.instagram.android/
USER: dave
PASS: pw4
===============
`

func TestCredentialsBlankLine(t *testing.T) {
	res := ParseCredentials(blankLineCreds)
	require.Equal(t, OutcomeParsed, res.Outcome)
	assert.Equal(t, "blank-line", res.Dialect)
	require.Len(t, res.Records, 2)
	assert.Equal(t, "example.com", res.Records[0].Domain)
	assert.Equal(t, "bob@example.org", res.Records[1].Username)
	assert.Equal(t, "Chrome", res.Records[1].Application)
}

func TestCredentialsBlankLineWhitespace(t *testing.T) {
	want := ParseCredentials(blankLineCreds).Records
	pad := func(suffix string) string {
		return strings.ReplaceAll(blankLineCreds, "\n", suffix+"\n")
	}
	tests := map[string]string{
		"trailing spaces":    pad("   "),
		"trailing tabs":      pad("\t"),
		"crlf":               pad("\r"),
		"mixed":              pad(" \t \r"),
		"no final newline":   strings.TrimRight(blankLineCreds, "\n"),
		"padded blank lines": strings.ReplaceAll(blankLineCreds, "\n\n", "\n  \t\n"),
		"extra blank lines":  strings.ReplaceAll(blankLineCreds, "\n\n", "\n\n \n\n"),
	}
	for name, text := range tests {
		res := ParseCredentials(text)
		assert.Equal(t, "blank-line", res.Dialect, name)
		assert.Equal(t, want, res.Records, name)
	}
}

func TestCredentialsSeparator(t *testing.T) {
	res := ParseCredentials(separatorCreds)
	require.Equal(t, OutcomeParsed, res.Outcome)
	assert.Equal(t, "separator", res.Dialect)
	require.Len(t, res.Records, 2)
	assert.Equal(t, "Chrome (120.0)", res.Records[0].Application)
	assert.Equal(t, "google.com", res.Records[0].Domain)
	assert.Equal(t, "android.instagram.com", res.Records[1].Domain)
	assert.Equal(t, "", res.Records[1].TLD)
}

func TestCredentialsSequential(t *testing.T) {
	text := "URL: https://a.example.com\nLogin: u1\nPassword: p1\nURL: https://b.example.com\nLogin: u2\nPassword: p2\n"
	res := ParseCredentials(text)
	require.Equal(t, OutcomeParsed, res.Outcome)
	assert.Equal(t, "sequential", res.Dialect)
	assert.Len(t, res.Records, 2)
}

func TestCredentialsDuplicatesDropped(t *testing.T) {
	text := "URL: https://a.example.com\nUSER: u\nPASS: p\n\nURL: https://a.example.com\nUSER: u\nPASS: p\n"
	res := ParseCredentials(text)
	assert.Len(t, res.Records, 1)
}

func TestCredentialsGarbage(t *testing.T) {
	res := ParseCredentials("\x00\x01 binary junk without structure")
	assert.Equal(t, OutcomeEmpty, res.Outcome)
	assert.Empty(t, res.Records)

	res = ParseCredentials(string([]byte{0xff, 0xfe, 'U', 'R', 'L'}))
	assert.Equal(t, OutcomeMalformed, res.Outcome)
}

func TestChainRecoversFromPanic(t *testing.T) {
	c := NewChain("test",
		NewDialect("broken", func(string) []int { panic("boom") }),
		NewDialect("fine", func(string) []int { return []int{1} }),
	)
	res := c.Parse("x")
	assert.Equal(t, OutcomeParsed, res.Outcome)
	assert.Equal(t, "fine", res.Dialect)

	c = NewChain("test", NewDialect("broken", func(string) []int { panic("boom") }))
	assert.Equal(t, OutcomeMalformed, c.Parse("x").Outcome)
	assert.Equal(t, []string{"broken"}, c.Dialects())
}

func TestCardsRaccoon(t *testing.T) {
	text := `CC NUMBER: 4111 1111 1111 1111
EXPIRATION: 12/2027
CARD HOLDER: JOHN DOE

Card: 5500000000000004
Month: 01
Year: 2026
Name: JANE ROE

Card: 378282246310005
Name: NO EXPIRY
`
	res := ParseCards(text)
	require.Equal(t, "raccoon", res.Dialect)
	require.Len(t, res.Records, 2)
	assert.Equal(t, "Visa", res.Records[0].Brand)
	assert.Equal(t, "************1111", res.Records[0].Masked)
	assert.Equal(t, "01/2026", res.Records[1].Expiration)
	assert.Equal(t, "Mastercard", res.Records[1].Brand)
}

func TestCardsRedLine(t *testing.T) {
	text := `Card: 2223000048400011
Expire: 3/2030
Holder: A B
Card: 6011111111111117
Holder: C D
Card: 6011111111111117
`
	res := ParseCards(text)
	require.Equal(t, "redline", res.Dialect)
	require.Len(t, res.Records, 2)
	assert.Equal(t, "Mastercard", res.Records[0].Brand)
	assert.Equal(t, "Discover", res.Records[1].Brand)
	for _, c := range res.Records {
		assert.True(t, strings.HasPrefix(c.Masked, "****"))
	}
}

func TestCardsBrandPrecedence(t *testing.T) {
	tests := []struct {
		number string
		brand  string
	}{
		{"4000000000000002", "Visa"},
		{"4222222222222", "Visa"},
		{"4512345678901234", "Visa"},
		{"2223000048400011", "Mastercard"},
		{"5105105105105100", "Mastercard"},
		{"3566002020360505", "JCB"},
		{"9111111111111111", "Unknown"},
	}
	for _, tc := range tests {
		res := ParseCards("Card: " + tc.number + "\nHolder: X Y\n")
		require.Len(t, res.Records, 1, tc.number)
		assert.Equal(t, tc.brand, res.Records[0].Brand, tc.number)
	}
}

func TestSoftwareDialects(t *testing.T) {
	res := ParseSoftware("1) Google Chrome [120.0.1]\n2) 7-Zip 19.00 [19.00]\n3) Notepad++\n")
	assert.Equal(t, "bracket-list", res.Dialect)
	require.Len(t, res.Records, 3)
	assert.Equal(t, records.Software{Name: "Google Chrome", Version: "120.0.1"}, res.Records[0])
	assert.Equal(t, "Notepad++", res.Records[2].Name)

	res = ParseSoftware("Name: Steam\nVersion: 2.10\n\nName: Discord\nVersion: 1.0\n")
	assert.Equal(t, "key-value", res.Dialect)
	assert.Len(t, res.Records, 2)

	res = ParseSoftware("Installed software:\nSteam\nDiscord\nSteam\n")
	assert.Equal(t, "plain-list", res.Dialect)
	assert.Len(t, res.Records, 2)
}

func TestSystem(t *testing.T) {
	text := `Build ID: abc
IP: 203.0.113.7
Country: DE
Computer Name: DESKTOP-1234
User Name: victim
Operation System: Windows 10 Pro x64
HWID: 1A2B3C
Local Time: 2024-01-02 10:11:12
Stealer: RedLine
`
	si, outcome := ParseSystem(text)
	require.Equal(t, OutcomeParsed, outcome)
	assert.Equal(t, "DESKTOP-1234", si.Hostname)
	assert.Equal(t, "203.0.113.7", si.IP)
	assert.Equal(t, "DE", si.Country)
	assert.Equal(t, "Windows 10 Pro x64", si.OS)
	assert.Equal(t, "victim", si.Username)
	assert.Equal(t, "2024-01-02 10:11:12", si.InfectionDate)
	assert.Equal(t, "RedLine", si.Stealer)

	si, outcome = ParseSystem("MachineName = PC-9\nIP = 10.0.0.1\n")
	require.Equal(t, OutcomeParsed, outcome)
	assert.Equal(t, "PC-9", si.Hostname)

	_, outcome = ParseSystem("nothing to see")
	assert.Equal(t, OutcomeEmpty, outcome)
}

func TestWallets(t *testing.T) {
	text := `Wallet: MetaMask
Address: 0x52908400098527886E0F7030069857D2E4169EE7
Mnemonic: abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about

random note with bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq inside
legacy 1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2
zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo wrong
`
	res := ParseWallets(text)
	require.Equal(t, OutcomeParsed, res.Outcome)
	require.Len(t, res.Records, 4)
	assert.Equal(t, "MetaMask", res.Records[0].Type)
	assert.Equal(t, 12, res.Records[0].WordCount)
	assert.NotEmpty(t, res.Records[0].MnemonicHash)
	var types []string
	for _, w := range res.Records[1:] {
		types = append(types, w.Type)
	}
	assert.Equal(t, []string{records.WalletBTC, records.WalletBTC, records.WalletMulti}, types)
	for _, w := range res.Records {
		assert.NotContains(t, w.MnemonicHash, "abandon")
	}
}

func TestWalletsCapitalizedMnemonic(t *testing.T) {
	lower := ParseWallets("abandon ability able about above absent absorb abstract absurd abuse access accident\n")
	res := ParseWallets("Abandon Ability Able About Above Absent Absorb Abstract Absurd Abuse Access Accident\n")
	require.Len(t, res.Records, 1)
	require.Len(t, lower.Records, 1)
	assert.Equal(t, 12, res.Records[0].WordCount)
	assert.Equal(t, lower.Records[0].MnemonicHash, res.Records[0].MnemonicHash)
}

func TestIsMnemonic(t *testing.T) {
	assert.True(t, IsMnemonic(strings.Repeat("word ", 12)))
	assert.False(t, IsMnemonic(strings.Repeat("word ", 11)))
	assert.False(t, IsMnemonic(strings.Repeat("Word1 ", 12)))
}

func TestClassify(t *testing.T) {
	assert.True(t, IsPasswordFile("PC/Passwords.txt"))
	assert.True(t, IsPasswordFile("Browsers/Chrome_Logins.txt"))
	assert.False(t, IsPasswordFile("Browsers/Cookies.txt"))
	assert.True(t, IsSystemFile("x/System.txt"))
	assert.True(t, IsSystemFile("Information.txt"))
	assert.True(t, IsSoftwareFile("InstalledSoftware.txt"))
	assert.True(t, IsCardFile("CC/Chrome_Default.txt"))
	assert.True(t, IsCardFile("CreditCards/Edge.txt"))
	assert.True(t, IsCardFile("Autofill/cc_google.txt"))
	assert.False(t, IsCardFile("Accounts.txt"))
	assert.True(t, IsWalletFile("Wallets/MetaMask/vault.txt"))
	assert.True(t, IsWalletFile("seed.txt"))
	assert.False(t, IsWalletFile("Wallets/MetaMask/000003.log"))
}

func TestSanitizeText(t *testing.T) {
	in := []byte("\xef\xbb\xbfURL: x\r\nUSER:\x00 y\xff\rPASS: z")
	assert.Equal(t, "URL: x\nUSER: y\nPASS: z", SanitizeText(in))
}
