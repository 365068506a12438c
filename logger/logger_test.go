package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"google.golang.org/protobuf/types/known/structpb"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"trace", TRACE},
		{"DEBUG", DEBUG},
		{" info ", INFO},
		{"warning", WARN},
		{"error", ERROR},
		{"bogus", INFO},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestJSONOutputAndLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, true)
	SetLevel(INFO)
	defer func() {
		SetLevel(INFO)
		SetOutput(&bytes.Buffer{}, false)
	}()

	Debug("abcd1234 Node", "hidden %d", 1)
	Info("abcd1234 Node", "sent %d bytes", 37)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var rec map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("record is not JSON: %v", err)
	}
	if rec["level"] != "info" {
		t.Errorf("level = %v, want info", rec["level"])
	}
	if rec["component"] != "abcd1234 Node" {
		t.Errorf("component = %v", rec["component"])
	}
	if rec["message"] != "sent 37 bytes" {
		t.Errorf("message = %v", rec["message"])
	}
}

func TestToJSONProto(t *testing.T) {
	s, err := structpb.NewStruct(map[string]interface{}{"name": "alice"})
	if err != nil {
		t.Fatal(err)
	}
	out := ToJSON(s)
	if !strings.Contains(out, `"name"`) || !strings.Contains(out, `"alice"`) {
		t.Errorf("ToJSON(proto) = %s", out)
	}
	if got := ToJSON(map[string]int{"n": 1}); !strings.Contains(got, `"n": 1`) {
		t.Errorf("ToJSON(map) = %s", got)
	}
}
