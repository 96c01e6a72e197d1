// Dropwatch
// Copyright (c) 2025, DCSO GmbH

package pwarchive

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Outcome is the classified result of running the extraction tool.
type Outcome int

const (
	// OutcomeOK means the archive tested or extracted cleanly.
	OutcomeOK Outcome = iota
	// OutcomeWrongPassword means the tool rejected the password.
	OutcomeWrongPassword
	// OutcomeOther covers every other failure.
	OutcomeOther
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeWrongPassword:
		return "wrong_password"
	}
	return "other"
}

// Extractor tests and unpacks archives. An empty password means "no
// password"; the tool must never prompt.
type Extractor interface {
	Test(ctx context.Context, path, password string) (Outcome, error)
	Extract(ctx context.Context, path, password, outDir string) (Outcome, error)
}

// CommandExtractor drives the external 7z and unrar binaries. RAR files go
// to unrar when it is configured, everything else to 7z.
type CommandExtractor struct {
	SevenZip string
	Unrar    string
}

// MakeCommandExtractor returns an extractor using the given binaries.
// Empty names fall back to "7z" and no unrar.
func MakeCommandExtractor(sevenZip, unrar string) *CommandExtractor {
	if sevenZip == "" {
		sevenZip = "7z"
	}
	return &CommandExtractor{
		SevenZip: sevenZip,
		Unrar:    unrar,
	}
}

func passwordArg(password string) string {
	if password == "" {
		return "-p-"
	}
	return "-p" + password
}

func (c *CommandExtractor) useUnrar(path string) bool {
	return c.Unrar != "" && strings.ToLower(filepath.Ext(path)) == ".rar"
}

// Test checks the archive integrity with the given password.
func (c *CommandExtractor) Test(ctx context.Context, path, password string) (Outcome, error) {
	if c.useUnrar(path) {
		return c.run(ctx, c.Unrar, "t", passwordArg(password), path)
	}
	return c.run(ctx, c.SevenZip, "t", passwordArg(password), "-y", path)
}

// Extract unpacks the archive into outDir.
func (c *CommandExtractor) Extract(ctx context.Context, path, password, outDir string) (Outcome, error) {
	if c.useUnrar(path) {
		return c.run(ctx, c.Unrar, "x", "-y", passwordArg(password), path, outDir+string(filepath.Separator))
	}
	return c.run(ctx, c.SevenZip, "x", passwordArg(password), "-y", "-o"+outDir, path)
}

func (c *CommandExtractor) run(ctx context.Context, bin string, args ...string) (Outcome, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	out, err := cmd.CombinedOutput()
	if err == nil {
		return OutcomeOK, nil
	}
	if ctx.Err() != nil {
		return OutcomeOther, ctx.Err()
	}
	if isWrongPassword(out) {
		return OutcomeWrongPassword, nil
	}
	log.WithFields(log.Fields{
		"component": "extractor",
		"tool":      bin,
	}).Debug(string(out))
	return OutcomeOther, fmt.Errorf("%s %s: %w", bin, args[0], err)
}

func isWrongPassword(out []byte) bool {
	lower := bytes.ToLower(out)
	for _, marker := range []string{"wrong password", "incorrect password", "encrypted"} {
		if bytes.Contains(lower, []byte(marker)) {
			return true
		}
	}
	return false
}
