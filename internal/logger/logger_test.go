package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"WARN":    zerolog.WarnLevel,
		" error ": zerolog.ErrorLevel,
		"off":     zerolog.Disabled,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestComponentLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "info", Output: &buf})

	comp := l.Component("merge")
	comp.Info().Str("merge_id", "m1").Msg("merge completed")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["component"] != "merge" || entry["merge_id"] != "m1" || entry["service"] != "contentvcs" {
		t.Errorf("unexpected fields: %v", entry)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "warn", Output: &buf})

	l.LogOperation("commit", "doc1", time.Millisecond, nil)
	if buf.Len() != 0 {
		t.Errorf("debug entry should be filtered, got %s", buf.String())
	}

	l.LogOperation("commit", "doc1", time.Millisecond, errors.New("boom"))
	if !strings.Contains(buf.String(), `"error":"boom"`) {
		t.Errorf("expected error entry, got %s", buf.String())
	}
}

func TestNop(t *testing.T) {
	l := Nop()
	l.LogBackupFailure("doc1", "v1", "initial", errors.New("unreachable"))
	if l.Zerolog().GetLevel() != zerolog.Disabled {
		t.Errorf("expected disabled level")
	}
}
