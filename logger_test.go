package shaderprobe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestDiscard_Enabled(t *testing.T) {
	h := discard{}
	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
		if h.Enabled(context.Background(), level) {
			t.Errorf("discard.Enabled(%v) = true, want false", level)
		}
	}
}

func TestDiscard_WithAttrsAndGroup(t *testing.T) {
	h := discard{}
	if _, ok := h.WithAttrs([]slog.Attr{slog.String("key", "val")}).(discard); !ok {
		t.Error("discard.WithAttrs() should return discard")
	}
	if _, ok := h.WithGroup("group").(discard); !ok {
		t.Error("discard.WithGroup() should return discard")
	}
}

func TestLoggerDefaultSilent(t *testing.T) {
	l := Logger()
	if l == nil {
		t.Fatal("Logger() returned nil")
	}
	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn} {
		if l.Enabled(context.Background(), level) {
			t.Errorf("default logger should not be enabled for %v", level)
		}
	}
}

func TestSetLogger(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	Logger().Debug("archive written", "bytes", 42)
	if !strings.Contains(buf.String(), "archive written") {
		t.Errorf("expected log output to contain message, got %q", buf.String())
	}

	SetLogger(nil)
	if Logger().Enabled(context.Background(), slog.LevelError) {
		t.Error("SetLogger(nil) should restore the silent logger")
	}
}
