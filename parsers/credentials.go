// Dropwatch
// Copyright (c) 2025, DCSO GmbH

package parsers

import (
	"github.com/DCSO/dropwatch/records"
)

var credentialAliases = map[string]string{
	"url":           "url",
	"host":          "url",
	"hostname":      "url",
	"origin":        "url",
	"link":          "url",
	"site":          "url",
	"user":          "user",
	"username":      "user",
	"login":         "user",
	"user login":    "user",
	"email":         "user",
	"pass":          "pass",
	"password":      "pass",
	"user password": "pass",
	"pwd":           "pass",
	"browser":       "app",
	"soft":          "app",
	"application":   "app",
	"app":           "app",
}

func credentialFromFields(fs fieldSet) (records.Credential, bool) {
	c, err := records.NewCredential(fs["url"], fs["user"], fs["pass"])
	if err != nil {
		return c, false
	}
	c.Application = fs["app"]
	return c, true
}

func credentialsFromFieldSets(sets []fieldSet) []records.Credential {
	var out []records.Credential
	for _, fs := range sets {
		if c, ok := credentialFromFields(fs); ok {
			out = append(out, c)
		}
	}
	return out
}

// parseCredentialsBlank handles records separated by blank lines. Text with
// separator lines, or a block repeating a field, belongs to another dialect.
func parseCredentialsBlank(text string) []records.Credential {
	if hasSeparator(text) {
		return nil
	}
	var sets []fieldSet
	for _, b := range blankBlocks(text) {
		fs, ok := collect(b, credentialAliases)
		if !ok {
			return nil
		}
		sets = append(sets, fs)
	}
	return credentialsFromFieldSets(sets)
}

// parseCredentialsSeparated handles records delimited by lines such as
// "===============".
func parseCredentialsSeparated(text string) []records.Credential {
	var sets []fieldSet
	for _, b := range separatorBlocks(text) {
		sets = append(sets, sequential(b, credentialAliases)...)
	}
	return credentialsFromFieldSets(sets)
}

// parseCredentialsSequential handles undelimited streams where a repeated
// field starts a new record.
func parseCredentialsSequential(text string) []records.Credential {
	return credentialsFromFieldSets(sequential(lines(text), credentialAliases))
}

// Credentials is the credential parser chain.
var Credentials = NewChain("credentials",
	NewDialect("blank-line", parseCredentialsBlank),
	NewDialect("separator", parseCredentialsSeparated),
	NewDialect("sequential", parseCredentialsSequential),
)

// ParseCredentials returns the credentials found in a password file. Exact
// duplicates (same URL, username and password) are dropped.
func ParseCredentials(text string) Result[records.Credential] {
	res := Credentials.Parse(text)
	if len(res.Records) < 2 {
		return res
	}
	seen := make(map[string]struct{}, len(res.Records))
	out := res.Records[:0]
	for _, c := range res.Records {
		if _, ok := seen[c.Key()]; ok {
			continue
		}
		seen[c.Key()] = struct{}{}
		out = append(out, c)
	}
	res.Records = out
	return res
}
