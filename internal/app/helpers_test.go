// ABOUTME: Small filesystem helpers shared by app tests
// ABOUTME: Keeps fixture writes out of the test bodies

package app

import (
	"os"
	"path/filepath"
)

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o600)
}
