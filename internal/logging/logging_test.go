package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNewFormatsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New("json", ParseLevel("warn"), &buf)
	l.Info("hidden")
	l.Warn("bus_tx_drop", "id", "0x222")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info should be filtered: %s", out)
	}
	if !strings.Contains(out, `"msg":"bus_tx_drop"`) || !strings.Contains(out, `"id":"0x222"`) {
		t.Fatalf("unexpected json: %s", out)
	}
}

func TestOrAndSet(t *testing.T) {
	orig := L()
	defer Set(orig)
	l := Discard()
	Set(l)
	if Or(nil) != l {
		t.Fatal("Or(nil) should return the global logger")
	}
	own := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	if Or(own) != own {
		t.Fatal("Or should keep an explicit logger")
	}
	Set(nil)
	if L() != l {
		t.Fatal("Set(nil) must be ignored")
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug, "info": slog.LevelInfo, "warn": slog.LevelWarn,
		"error": slog.LevelError, "bogus": slog.LevelInfo,
	} {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v", in, got)
		}
	}
}
