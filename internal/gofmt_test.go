package internal

import (
	"bytes"
	"go/format"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestGofmtCompliance fails if any source file under internal/ or cmd/
// differs from its gofmt output. Run `gofmt -w ./internal/ ./cmd/` to fix.
func TestGofmtCompliance(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	projectRoot := wd
	if filepath.Base(wd) == "internal" {
		projectRoot = filepath.Dir(wd)
	}

	var unformatted []string
	for _, dir := range []string{
		filepath.Join(projectRoot, "internal"),
		filepath.Join(projectRoot, "cmd"),
	} {
		err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() || !strings.HasSuffix(path, ".go") {
				return err
			}
			src, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			formatted, err := format.Source(src)
			if err != nil {
				// Syntax errors belong to the compiler, not this test.
				return nil
			}
			if !bytes.Equal(src, formatted) {
				rel, _ := filepath.Rel(projectRoot, path)
				unformatted = append(unformatted, rel)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("walk %s: %v", dir, err)
		}
	}

	if len(unformatted) > 0 {
		t.Errorf("files not gofmt-formatted:\n  %s", strings.Join(unformatted, "\n  "))
	}
}
