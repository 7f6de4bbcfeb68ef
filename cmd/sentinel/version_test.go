package main

import (
	"encoding/json"
	"runtime"
	"strings"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	origVersion, origCommit := Version, GitCommit
	Version, GitCommit = "0.1.0-test", "abc123"
	defer func() { Version, GitCommit = origVersion, origCommit }()

	out, err := execute(t, "", "version", "-o", "json")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	var got versionInfo
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if got.Version != "0.1.0-test" || got.GitCommit != "abc123" {
		t.Errorf("version = %+v", got)
	}
	if got.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %q, want %q", got.GoVersion, runtime.Version())
	}

	out, err = execute(t, "", "version")
	if err != nil {
		t.Fatalf("version text: %v", err)
	}
	if !strings.HasPrefix(out, "VERSION") || !strings.Contains(out, "0.1.0-test") {
		t.Errorf("text output = %q", out)
	}
}

func TestVersionCommandExists(t *testing.T) {
	if versionCmd.Use != "version" {
		t.Errorf("versionCmd.Use = %q, want %q", versionCmd.Use, "version")
	}
	if versionCmd.RunE == nil {
		t.Error("versionCmd.RunE should not be nil")
	}
}

func TestUnknownFormat(t *testing.T) {
	_, err := execute(t, "", "version", "-o", "xml")
	if err == nil {
		t.Fatal("expected error for unknown format")
	}
	if code := exitCodeOf(err); code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}
}
