// Dropwatch
// Copyright (c) 2016, 2025, DCSO GmbH

// Package yarafamily is a stealer family detector matching compiled YARA
// rules against device system information files.
package yarafamily

import (
	"sync"
	"time"

	"github.com/DCSO/dropwatch/registry"

	"github.com/hillu/go-yara/v4"
	log "github.com/sirupsen/logrus"
)

var yLogger = log.WithFields(log.Fields{"plugin": "YARA"})

// Settings selects where rules are loaded from. With neither RuleFile nor
// RuleURI set the detector stays inactive.
type Settings struct {
	RuleFile string
	RuleURI  string
	XZ       bool
}

var defaultDetector = &Detector{}

func init() {
	registry.RegisterDetectorPlugin(defaultDetector)
}

// Configure sets the rule source of the registered detector. It takes
// effect on the next ReInitialize.
func Configure(s Settings) {
	defaultDetector.Configure(s)
}

// Detector is the helper struct to implement the registry interface
type Detector struct {
	sync.RWMutex
	settings Settings
	rules    *yara.Rules
}

// Configure sets the rule source.
func (y *Detector) Configure(s Settings) {
	y.Lock()
	y.settings = s
	y.Unlock()
}

// Name returns the plugin name
func (y *Detector) Name() string { return "YARA" }

// ReInitialize loads the yara rules either from file or url
func (y *Detector) ReInitialize() error {
	y.RLock()
	s := y.settings
	y.RUnlock()
	if s.RuleFile == "" && s.RuleURI == "" {
		yLogger.Debug("no rule source configured, detector disabled")
		return nil
	}
	rules, err := loadRules(s.RuleFile, s.RuleURI, s.XZ)
	if err != nil {
		return err
	}
	y.Lock()
	if y.rules != nil {
		y.rules.Destroy()
	}
	y.rules = rules
	y.Unlock()
	return nil
}

// Detect scans the sample text and reports the family of the first
// matching rule.
func (y *Detector) Detect(sample registry.Sample) (string, bool, error) {
	y.RLock()
	defer y.RUnlock()
	if y.rules == nil || len(sample.Text) == 0 {
		return "", false, nil
	}

	var matchRules yara.MatchRules
	err := y.rules.ScanMem(sample.Text, yara.ScanFlags(yara.ScanFlagsFastMode), time.Second*20, &matchRules)
	if err != nil {
		return "", false, err
	}
	if len(matchRules) == 0 {
		yLogger.Debug("Processed sample:", sample.Path)
		return "", false, nil
	}
	fam := familyOf(matchRules[0])
	yLogger.WithField("device", sample.Device).Infof("matched rule %s", matchRules[0].Rule)
	return fam, true, nil
}
