package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// UIDFile is the name of the report UID file in the workspace.
const UIDFile = "uid"

// UIDPath returns the path of the report UID file.
func (c *Configuration) UIDPath() string {
	return filepath.Join(c.Workspace(), UIDFile)
}

// CurrentUID returns the report UID shared by the test runs of one build.
// PROBEDOCK_TEST_REPORT_UID wins over the last line of the UID file.
func (c *Configuration) CurrentUID() string {
	if uid, ok := c.env(EnvTestReportUID); ok && uid != "" {
		return uid
	}

	f, err := os.Open(c.UIDPath())
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn().Err(err).Str("path", c.UIDPath()).Msg("Unable to read the report UID")
		}
		return ""
	}
	defer f.Close()

	var uid string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			uid = line
		}
	}
	if err := scanner.Err(); err != nil {
		c.logger.Warn().Err(err).Str("path", c.UIDPath()).Msg("Unable to read the report UID")
	}
	return uid
}

// WriteUID replaces the report UID file.
func (c *Configuration) WriteUID(uid string) error {
	if err := os.MkdirAll(c.Workspace(), 0o755); err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	if err := os.WriteFile(c.UIDPath(), []byte(uid+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write report UID: %w", err)
	}
	return nil
}

// ClearUID removes the report UID file. A missing file is not an error.
func (c *Configuration) ClearUID() error {
	if err := os.Remove(c.UIDPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove report UID: %w", err)
	}
	return nil
}
