package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// EnsureDataDirectory creates dir if needed and checks that it is writable.
// This is a pre-flight check that runs before storage is opened.
func EnsureDataDirectory(dir string, sugar *zap.SugaredLogger) error {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path for %s: %w", dir, err)
	}

	if err := os.MkdirAll(absPath, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w\n"+
			"  Remediation: Ensure the parent directory exists and is writable\n"+
			"  For Docker: Check volume mount permissions", dir, err)
	}

	testFile := filepath.Join(absPath, ".ruleengine_write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
		return fmt.Errorf("directory %s is not writable: %w\n"+
			"  Remediation: Check file system permissions", dir, err)
	}
	if err := os.Remove(testFile); err != nil {
		sugar.Warnw("Failed to remove write test file", "path", testFile, "error", err)
	}

	sugar.Debugw("Data directory ready", "path", absPath)
	return nil
}
