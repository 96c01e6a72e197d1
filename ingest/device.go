// Dropwatch
// Copyright (c) 2025, DCSO GmbH

package ingest

import (
	"github.com/DCSO/dropwatch/archive"
	"github.com/DCSO/dropwatch/parsers"
	"github.com/DCSO/dropwatch/records"
	"github.com/DCSO/dropwatch/registry"

	log "github.com/sirupsen/logrus"
)

// maxParseSize bounds how much of a single member is read for parsing.
const maxParseSize = 64 << 20

type parseKind int

const (
	kindNone parseKind = iota
	kindSystem
	kindPasswords
	kindCards
	kindSoftware
	kindWallets
)

func classify(p string) parseKind {
	switch {
	case parsers.IsSystemFile(p):
		return kindSystem
	case parsers.IsCardFile(p):
		return kindCards
	case parsers.IsPasswordFile(p):
		return kindPasswords
	case parsers.IsSoftwareFile(p):
		return kindSoftware
	case parsers.IsWalletFile(p):
		return kindWallets
	}
	return kindNone
}

// buildRecords reads and parses the members of one device group. Members
// that cannot be read or parsed are counted in malformed and otherwise
// skipped.
func (o *Orchestrator) buildRecords(src archive.Source, g archive.DeviceGroup, batchID, archiveFamily string) (dr records.DeviceRecords, malformed int) {
	dr.Device = records.NewDevice(g.Name, batchID)
	logger := o.logger.WithFields(log.Fields{
		"batch":  batchID,
		"device": g.Name,
	})

	var sysText, sysPath string
	haveSystem := false

	for _, de := range g.Entries {
		fn := records.NewFileNode(de.Path, de.Entry.Size, de.Entry.IsDir)
		if de.Entry.IsDir || de.Implied {
			dr.Files = append(dr.Files, fn)
			continue
		}
		kind := classify(de.Path)
		isText := o.tables.IsTextName(de.Path)
		if kind == kindNone && !isText {
			dr.Files = append(dr.Files, fn)
			continue
		}

		limit := int64(maxParseSize)
		if kind == kindNone {
			limit = o.tables.MaxTextSize
		}
		data, complete, err := archive.ReadEntry(src, de.Entry, limit)
		if err != nil {
			logger.Warnf("cannot read %s: %v", de.Path, err)
			malformed++
			dr.Files = append(dr.Files, fn)
			continue
		}
		text := parsers.SanitizeText(data)
		if isText && complete && int64(len(data)) <= o.tables.MaxTextSize {
			content := text
			fn.Content = &content
		}
		dr.Files = append(dr.Files, fn)

		var outcome parsers.Outcome
		switch kind {
		case kindSystem:
			var si records.SystemInfo
			si, outcome = parsers.ParseSystem(text)
			if !haveSystem && outcome == parsers.OutcomeParsed {
				dr.Device.ApplySystemInfo(si)
				sysText, sysPath = text, de.Path
				haveSystem = true
			}
		case kindPasswords:
			res := parsers.ParseCredentials(text)
			outcome = res.Outcome
			for _, c := range res.Records {
				c.FilePath = de.Path
				dr.Credentials = append(dr.Credentials, c)
			}
		case kindCards:
			res := parsers.ParseCards(text)
			outcome = res.Outcome
			for _, c := range res.Records {
				c.SourceFile = de.Path
				dr.Cards = append(dr.Cards, c)
			}
		case kindSoftware:
			res := parsers.ParseSoftware(text)
			outcome = res.Outcome
			for _, s := range res.Records {
				s.SourceFile = de.Path
				dr.Software = append(dr.Software, s)
			}
		case kindWallets:
			res := parsers.ParseWallets(text)
			outcome = res.Outcome
			for _, w := range res.Records {
				w.SourceFile = de.Path
				dr.Wallets = append(dr.Wallets, w)
			}
		}
		if outcome == parsers.OutcomeMalformed {
			logger.Warnf("malformed %s", de.Path)
			malformed++
		}
	}

	if dr.Device.Stealer == "" && sysText != "" {
		dr.Device.Stealer, _ = registry.DetectFamily(o.detectors, registry.Sample{
			Device:  g.Name,
			Path:    sysPath,
			Archive: src.Name(),
			Text:    []byte(sysText),
		})
	}
	if dr.Device.Stealer == "" {
		dr.Device.Stealer = archiveFamily
	}

	dr.Credentials = dedupCredentials(dr.Credentials)
	for i := range dr.Credentials {
		dr.Credentials[i].Stealer = dr.Device.Stealer
		dr.Credentials[i].DeviceHash = dr.Device.Hash
	}
	dr.Finalize()
	return dr, malformed
}

// dedupCredentials drops exact duplicates across the password files of a
// device, keeping the first occurrence.
func dedupCredentials(in []records.Credential) []records.Credential {
	if len(in) < 2 {
		return in
	}
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, c := range in {
		k := c.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, c)
	}
	return out
}
