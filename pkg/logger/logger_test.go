package logger

import (
	"context"
	"log/slog"
	"testing"
)

func TestComponentIsCached(t *testing.T) {
	a := Component("cachetest")
	b := Component("cachetest")
	if a != b {
		t.Fatal("Component must return the same logger for the same name")
	}
}

func TestConfigureAppliesToExistingLoggers(t *testing.T) {
	l := Component("reconfig")

	Configure("text", "error", nil)
	if l.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("info must be disabled after raising the default level")
	}

	Configure("text", "debug", nil)
	if !l.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug must be enabled after lowering the default level")
	}
	if Component("reconfig") != l {
		t.Fatal("reconfiguration must not invalidate cached loggers")
	}

	Configure("text", "info", nil)
}

func TestConfigureComponentOverride(t *testing.T) {
	l := Component("chatty")
	Configure("text", "info", map[string]string{"chatty": "warn"})
	if l.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("component override must win over the default level")
	}
	if !Component("quiet").Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("other components must keep the default level")
	}
	Configure("text", "info", nil)
}
