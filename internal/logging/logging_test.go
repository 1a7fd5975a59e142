package logging

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestNewWritesToConfiguredOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf})

	log.With(String("component", "driver")).Info(context.Background(), "hello",
		Int("nodes", 6),
		Float64("gain", -54.5),
		Err(errors.New("boom")),
	)

	out := buf.String()
	for _, want := range []string{`"msg":"hello"`, `"component":"driver"`, `"nodes":6`, `"error":"boom"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output %q missing %q", out, want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})
	log.Info(context.Background(), "dropped")
	if buf.Len() != 0 {
		t.Fatalf("info message should be filtered at warn level, got %q", buf.String())
	}
	log.Warn(context.Background(), "kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Fatalf("warn message missing: %q", buf.String())
	}
}

func TestEnsureRunIDStable(t *testing.T) {
	ctx, id := EnsureRunID(context.Background())
	if id == "" {
		t.Fatalf("EnsureRunID returned empty id")
	}
	_, again := EnsureRunID(ctx)
	if again != id {
		t.Fatalf("EnsureRunID changed id: %q -> %q", id, again)
	}
	if got := RunIDFromContext(ctx); got != id {
		t.Fatalf("RunIDFromContext = %q, want %q", got, id)
	}
}

func TestLoggerFromContext(t *testing.T) {
	if LoggerFromContext(context.Background()) != nil {
		t.Fatalf("expected nil logger on empty context")
	}
	ctx := ContextWithLogger(context.Background(), nil)
	if LoggerFromContext(ctx) == nil {
		t.Fatalf("expected noop logger to be stored")
	}
}

func TestChannelsPrintf(t *testing.T) {
	ch := NewChannels()
	var boot, radio bytes.Buffer
	ch.Add("Boot", &boot)
	ch.Add("Radio", &radio)

	ch.Printf("Boot", 3, "Application booted at %d", 7)
	ch.Printf("Timer", 3, "dropped")

	if got, want := boot.String(), "DEBUG (3): Application booted at 7\n"; got != want {
		t.Fatalf("Boot output = %q, want %q", got, want)
	}
	if radio.Len() != 0 {
		t.Fatalf("Radio channel received %q", radio.String())
	}
	if ch.Enabled("Timer") {
		t.Fatalf("Timer should be disabled")
	}
}

func TestChannelsSharedSinkAndRemove(t *testing.T) {
	ch := NewChannels()
	var out bytes.Buffer
	ch.Add("Boot", &out)
	ch.Add("Radio", &out)

	if names := ch.Names(); len(names) != 2 || names[0] != "Boot" || names[1] != "Radio" {
		t.Fatalf("Names = %v", names)
	}

	if !ch.Remove("Radio", &out) {
		t.Fatalf("Remove returned false for a bound sink")
	}
	if ch.Remove("Radio", &out) {
		t.Fatalf("Remove returned true twice")
	}
	ch.Printf("Radio", 1, "gone\n")
	ch.Printf("Boot", 1, "kept\n")
	if got := out.String(); got != "DEBUG (1): kept\n" {
		t.Fatalf("output = %q", got)
	}
}
