// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"ERROR", LevelError},
		{" Info ", LevelInfo},
		{"", LevelInfo},
		{"bogus", LevelInfo},
	}
	for _, c := range cases {
		if got := ParseLevel(c.in); got != c.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestLevel_String(t *testing.T) {
	t.Parallel()

	cases := map[Level]string{
		LevelDebug: "DEBUG",
		LevelInfo:  "INFO",
		LevelWarn:  "WARN",
		LevelError: "ERROR",
		Level(99):  "UNKNOWN",
	}
	for level, want := range cases {
		if got := level.String(); got != want {
			t.Errorf("Level(%d).String() = %q, want %q", level, got, want)
		}
	}
}

func TestNew_StderrOnly(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Stderr: &buf})
	defer logger.Close()

	logger.Info("setup started", "model", "gemma3:4b")
	logger.Debug("should be filtered")

	out := buf.String()
	if !strings.Contains(out, "setup started") {
		t.Errorf("info record missing from output: %q", out)
	}
	if !strings.Contains(out, "model=gemma3:4b") {
		t.Errorf("attribute missing from output: %q", out)
	}
	if strings.Contains(out, "should be filtered") {
		t.Errorf("debug record leaked through info level: %q", out)
	}
}

func TestNew_FileLogging(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var buf bytes.Buffer
	logger := New(Config{LogDir: dir, Service: "scribe-test", Stderr: &buf})

	logger.Info("note saved", "note_id", "abc123")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	name := "scribe-test_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), `"note_id":"abc123"`) {
		t.Errorf("JSON record missing from file: %q", data)
	}
	if !strings.Contains(buf.String(), "note saved") {
		t.Error("file logging must not replace stderr output")
	}
}

func TestNew_FileOpenFailureDegradesToStderr(t *testing.T) {
	t.Parallel()

	// A file where the directory should be forces MkdirAll to fail.
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	if err := os.WriteFile(blocked, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	logger := New(Config{LogDir: blocked, Stderr: &buf})
	defer logger.Close()

	logger.Info("still works")
	out := buf.String()
	if !strings.Contains(out, "file logging disabled") {
		t.Errorf("degradation warning missing: %q", out)
	}
	if !strings.Contains(out, "still works") {
		t.Errorf("logger unusable after degradation: %q", out)
	}
}

func TestClose_WithoutFileIsNil(t *testing.T) {
	t.Parallel()

	logger := Default()
	if err := logger.Close(); err != nil {
		t.Errorf("Close on stderr-only logger: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
