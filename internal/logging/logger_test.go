package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewTagsEveryRecord(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "debug", "abaco", "test")

	logger.Debug("balance updated", "asset", "BRL")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if record["app"] != "abaco" || record["env"] != "test" {
		t.Fatalf("record missing app/env tags: %v", record)
	}
	if record["msg"] != "balance updated" || record["asset"] != "BRL" {
		t.Fatalf("record lost its payload: %v", record)
	}
}

func TestNewInvalidLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "chatty", "abaco", "test")

	logger.Debug("below threshold")
	if buf.Len() != 0 {
		t.Fatalf("debug must be filtered at the info default, got %q", buf.String())
	}

	logger.Info("at threshold")
	if buf.Len() == 0 {
		t.Fatal("info must pass at the default level")
	}
}
