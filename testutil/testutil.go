// Package testutil provides helpers for generating test logs.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// WriteTempLog writes content to a fresh log file under t.TempDir and
// returns its path.
func WriteTempLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.log")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write temp log: %v", err)
	}
	return path
}

// GenerateTestLog creates a log with numRows deterministic ledgerable rows.
// Every row has three whitespace-separated cells, so it parses under the
// default grammar.
func GenerateTestLog(t *testing.T, numRows int) string {
	t.Helper()
	var sb strings.Builder
	for i := 1; i <= numRows; i++ {
		fmt.Fprintf(&sb, "host%d action%d value%d\n", i, i%7, i*i)
	}
	return WriteTempLog(t, sb.String())
}

// AppendToLog appends more content to an existing log file.
func AppendToLog(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatalf("Failed to open log for append: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("Failed to append to log: %v", err)
	}
}
