// Dropwatch
// Copyright (c) 2016, 2025, DCSO GmbH

package yarafamily

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/hillu/go-yara/v4"
	"github.com/xi2/xz"
)

// loadRules reads a compiled yara rule file from disk or, if no file is
// given, from the configured URI.
func loadRules(ruleFile, ruleURI string, isXz bool) (*yara.Rules, error) {
	var ruleReader io.Reader

	if ruleFile != "" {
		yLogger.Info("Loading rule file ", ruleFile)
		fileReader, err := os.Open(ruleFile)
		if err != nil {
			return nil, err
		}
		defer fileReader.Close()

		if isXz {
			ruleReader, err = xz.NewReader(fileReader, 0)
			if err != nil {
				return nil, err
			}
		} else {
			ruleReader = fileReader
		}

		rules, err := yara.ReadRules(ruleReader)
		if err != nil {
			return nil, errors.New("error loading local yara plugin rule file")
		}
		yLogger.Infof("Loaded [%d] rules", len(rules.GetRules()))
		return rules, nil
	}

	yLogger.Debug("Retrieving rule file via HTTP from: ", ruleURI)
	response, err := http.Get(ruleURI)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("error retrieving yara rules: %s", response.Status)
	}

	if isXz {
		ruleReader, err = xz.NewReader(response.Body, 0)
		if err != nil {
			return nil, err
		}
	} else {
		data, err := io.ReadAll(response.Body)
		if err != nil {
			return nil, err
		}
		ruleReader = bytes.NewReader(data)
	}

	rules, err := yara.ReadRules(ruleReader)
	if err != nil {
		return nil, errors.New("error loading yara plugin rule file from server: " + fmt.Sprintf("%v", err))
	}
	yLogger.Infof("Loaded [%d] rules", len(rules.GetRules()))
	return rules, nil
}

// familyOf returns the value of the "family" meta of a matched rule, or the
// rule name if the meta is missing.
func familyOf(m yara.MatchRule) string {
	for _, meta := range m.Metas {
		if meta.Identifier != "family" {
			continue
		}
		if s, ok := meta.Value.(string); ok && s != "" {
			return s
		}
	}
	return m.Rule
}
