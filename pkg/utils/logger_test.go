package utils

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"warning", WARN},
		{"error", ERROR},
		{"bogus", INFO},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter("warn", &buf)

	l.Info("hidden %d", 1)
	l.Warn("shown %d", 2)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info message should be filtered, got %q", out)
	}
	if !strings.Contains(out, "shown 2") {
		t.Errorf("warn message missing, got %q", out)
	}
}

func TestLogger_WithComponent(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter("info", &buf).With("session")

	l.Info("authenticated")

	if !strings.Contains(buf.String(), `"component":"session"`) {
		t.Errorf("component field missing: %q", buf.String())
	}
}

func TestMaskSecret(t *testing.T) {
	if got := MaskSecret("abcdefgh"); got != "abcd****" {
		t.Errorf("MaskSecret() = %q", got)
	}
	if got := MaskSecret("abc"); got != "****" {
		t.Errorf("MaskSecret() short = %q", got)
	}
}
