package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lgl.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
[logs.access]
logFile = "/var/log/access.log"
lglDir = "/var/log/.lgl"
skipBlankLines = true
tokenDelimiters = " ,"
commentPrefix = "#"
salted = true

[logs.audit]
logFile = "/var/log/audit.log"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Logs) != 2 {
		t.Fatalf("parsed %d entries, want 2", len(cfg.Logs))
	}
	access := cfg.Logs["access"]
	if access.LogFile != "/var/log/access.log" || !access.Salted || access.Delimiters != " ," {
		t.Errorf("access entry = %+v", access)
	}
	g, err := access.Grammar()
	if err != nil {
		t.Fatal(err)
	}
	if !g.SkipBlankLines() || g.CommentPrefix() != "#" {
		t.Errorf("grammar = %+v", g)
	}
	audit := cfg.Logs["audit"]
	if audit.Salted || audit.Delimiters != "" {
		t.Errorf("audit entry should carry defaults: %+v", audit)
	}
}

func TestLoadConfigRejectsMissingLogFile(t *testing.T) {
	path := writeConfig(t, "[logs.broken]\nsalted = true\n")
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for entry without logFile")
	}
}

func TestLoadConfigRejectsBadGrammar(t *testing.T) {
	path := writeConfig(t, "[logs.bad]\nlogFile = \"/tmp/x.log\"\ntokenDelimiters = \"\\n\"\n")
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for newline delimiter")
	}
}

func TestLoadConfigRejectsMalformedToml(t *testing.T) {
	path := writeConfig(t, "not [valid toml")
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestLookup(t *testing.T) {
	path := writeConfig(t, "[logs.app]\nlogFile = \"/var/log/app.log\"\n")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := cfg.Lookup("app"); !ok {
		t.Error("lookup by entry name failed")
	}
	if _, ok := cfg.Lookup("/var/log/app.log"); !ok {
		t.Error("lookup by path failed")
	}
	if _, ok := cfg.Lookup("nope"); ok {
		t.Error("lookup of unknown entry succeeded")
	}
}
