// Dropwatch
// Copyright (c) 2016, 2025, DCSO GmbH

// Package registry - Reference: http://stackoverflow.com/questions/28001872/golang-events-eventemitter-dispatcher-for-plugin-architecture
package registry

import (
	"strings"

	"github.com/DCSO/dropwatch/config"

	log "github.com/sirupsen/logrus"
)

// DetectFamily runs the given plugins over the sample in order and returns
// the first family reported, together with the name of the plugin that
// reported it. Plugin errors are logged and skipped.
func DetectFamily(plugins []DetectorPlugin, s Sample) (family string, via string) {
	for _, plug := range plugins {
		fam, ok, err := plug.Detect(s)
		if err != nil {
			log.Errorf("plugin (%s) error processing %s: %s", plug.Name(), s.Path, err)
			continue
		}
		if ok && fam != "" {
			log.WithFields(log.Fields{
				"device": s.Device,
				"plugin": plug.Name(),
			}).Debugf("stealer family %s", fam)
			return fam, plug.Name()
		}
	}
	return "", ""
}

// familyKeys are the system file keys whose value names the stealer build.
var familyKeys = map[string]bool{
	"build":          true,
	"stealer":        true,
	"stealer family": true,
	"malware":        true,
	"log by":         true,
}

// KeywordDetector matches the stealer keyword table against the values of
// the family lines of the sample text. Hostnames and user names are never
// looked at.
type KeywordDetector struct {
	tables *config.Tables
}

// MakeKeywordDetector returns a detector using the keyword table of t.
func MakeKeywordDetector(t *config.Tables) *KeywordDetector {
	return &KeywordDetector{tables: t}
}

// Name returns the plugin name
func (k *KeywordDetector) Name() string { return "keywords" }

// ReInitialize is a no-op, the table is fixed at construction.
func (k *KeywordDetector) ReInitialize() error { return nil }

// Detect looks for a stealer keyword in the family lines of the sample.
func (k *KeywordDetector) Detect(s Sample) (string, bool, error) {
	for _, l := range strings.Split(string(s.Text), "\n") {
		i := strings.IndexAny(l, ":=")
		if i < 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(l[:i]), "-*")))
		if !familyKeys[key] {
			continue
		}
		if fam := k.tables.StealerFromText(l[i+1:]); fam != "" {
			return fam, true, nil
		}
	}
	return "", false, nil
}
