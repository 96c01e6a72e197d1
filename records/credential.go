// Dropwatch
// Copyright (c) 2025, DCSO GmbH

package records

import (
	"errors"
	"net"
	"strings"
)

// ErrMissingField is returned by the record constructors when a required
// field is empty.
var ErrMissingField = errors.New("missing required field")

// Credential is a single saved login.
type Credential struct {
	URL         string `json:"url"`
	Domain      string `json:"domain,omitempty"`
	TLD         string `json:"tld,omitempty"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	Application string `json:"application,omitempty"`
	Stealer     string `json:"stealer,omitempty"`
	FilePath    string `json:"file_path,omitempty"`
	DeviceHash  string `json:"device_hash,omitempty"`
}

// NewCredential validates the three mandatory fields and derives domain and
// TLD from the URL.
func NewCredential(url, username, password string) (Credential, error) {
	url = strings.TrimSpace(url)
	username = strings.TrimSpace(username)
	if url == "" || username == "" || password == "" {
		return Credential{}, ErrMissingField
	}
	domain, tld := DeriveDomain(url)
	return Credential{
		URL:      url,
		Domain:   domain,
		TLD:      tld,
		Username: username,
		Password: password,
	}, nil
}

// Key identifies a credential for duplicate elimination within a device.
func (c Credential) Key() string {
	return c.URL + "\x00" + c.Username + "\x00" + c.Password
}

// DeriveDomain extracts the registrable domain and top-level domain of a
// URL. IPv4 hosts return the address as domain and an empty TLD. Android
// application URLs of the form android://<sig>@<package> return the package
// id with its labels reversed and an empty TLD.
func DeriveDomain(raw string) (domain, tld string) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ""
	}
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "android") && strings.Contains(lower, "@") {
		return androidDomain(lower), ""
	}

	host := lower
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	if i := strings.LastIndex(host, "@"); i >= 0 {
		host = host[i+1:]
	}
	if strings.HasPrefix(host, "[") {
		// IPv6 literal
		if i := strings.Index(host, "]"); i >= 0 {
			return host[1:i], ""
		}
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(host, ".")
	host = strings.TrimPrefix(host, "www.")
	if host == "" {
		return "", ""
	}
	if ip := net.ParseIP(host); ip != nil {
		return host, ""
	}

	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return host, ""
	}
	n := len(labels)
	return labels[n-2] + "." + labels[n-1], labels[n-1]
}

func androidDomain(s string) string {
	pkg := s[strings.LastIndex(s, "@")+1:]
	pkg = strings.Trim(pkg, "/")
	labels := strings.FieldsFunc(pkg, func(r rune) bool {
		return r == '.' || r == '/'
	})
	for i, j := 0, len(labels)-1; i < j; i, j = i+1, j-1 {
		labels[i], labels[j] = labels[j], labels[i]
	}
	return strings.Join(labels, ".")
}
