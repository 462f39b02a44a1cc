package reporting

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultPathManager implements path management functionality
type DefaultPathManager struct {
	root string
}

// NewDefaultPathManager creates a new path manager rooted at root ("exports" when empty)
func NewDefaultPathManager(root string) *DefaultPathManager {
	if root == "" {
		root = "exports"
	}
	return &DefaultPathManager{root: root}
}

// GetDefaultOutputDir returns the export directory of an account
func (p *DefaultPathManager) GetDefaultOutputDir(account string) string {
	a := strings.ToLower(strings.TrimSpace(account))
	if a == "" {
		a = "default"
	}
	return filepath.Join(p.root, a)
}

// ExportPath returns a timestamped file path for an account export, e.g.
// exports/main/ledger_20260302_120000.xlsx
func (p *DefaultPathManager) ExportPath(account, name, ext string, at time.Time) string {
	ext = strings.TrimPrefix(ext, ".")
	file := fmt.Sprintf("%s_%s.%s", name, at.UTC().Format("20060102_150405"), ext)
	return filepath.Join(p.GetDefaultOutputDir(account), file)
}

// EnsureDirectoryExists creates dir if it doesn't exist
func EnsureDirectoryExists(dir string) error {
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// DefaultExportPath is a convenience function using the default path manager
func DefaultExportPath(account, name, ext string) string {
	return NewDefaultPathManager("").ExportPath(account, name, ext, time.Now())
}
