// ABOUTME: Report sink: writes received report bodies to the file system.
// ABOUTME: One file per (agent address, invocation), overwritten on each report.

package controller

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ReportSink consumes report bodies received from agents.
type ReportSink interface {
	// Persist writes one report. Repeated reports for the same pair
	// replace the previous contents.
	Persist(agentAddr, invocation string, body []byte) error
}

// FileSink writes reports as plain files named "<agent addr> <invocation>.txt"
// inside a single directory.
type FileSink struct {
	dir string
}

// NewFileSink creates the report directory if needed and returns a sink
// writing into it.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating report directory: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

// Persist implements ReportSink.
func (s *FileSink) Persist(agentAddr, invocation string, body []byte) error {
	name := sanitizeFilename(fmt.Sprintf("%s %s.txt", agentAddr, invocation))
	if err := os.WriteFile(filepath.Join(s.dir, name), body, 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

// sanitizeFilename keeps an attacker-controlled invocation from steering
// the write outside the report directory.
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	return strings.ReplaceAll(name, string(filepath.Separator), "_")
}
