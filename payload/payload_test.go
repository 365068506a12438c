package payload

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMockIsAPresentation(t *testing.T) {
	doc := Mock()
	if !json.Valid(doc) {
		t.Fatal("mock document is not valid JSON")
	}
	if got := Subject(doc); got != "Gilsun Hong" {
		t.Errorf("Subject = %q", got)
	}
	doc[0] = 'x'
	if Mock()[0] != '{' {
		t.Error("Mock shares its buffer")
	}
}

func TestEncodeDecode(t *testing.T) {
	tests := []struct {
		name     string
		encoding string
	}{
		{"raw", Raw},
		{"default", ""},
		{"proto", Proto},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(Mock(), tt.encoding)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			back, err := Decode(data, tt.encoding)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got := Subject(back); got != "Gilsun Hong" {
				t.Errorf("Subject after round trip = %q", got)
			}
		})
	}
}

func TestProtoIsSmallerAndDeterministic(t *testing.T) {
	a, err := Encode(Mock(), Proto)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := Encode(Mock(), Proto)
	if string(a) != string(b) {
		t.Error("proto encoding is not deterministic")
	}
	if len(a) >= len(Mock()) {
		t.Errorf("proto %d bytes, JSON %d bytes", len(a), len(Mock()))
	}
}

func TestEncodeErrors(t *testing.T) {
	if _, err := Encode([]byte("not json"), Proto); err == nil {
		t.Error("proto accepted non-JSON")
	}
	if _, err := Encode(Mock(), "xml"); err == nil {
		t.Error("unknown encoding accepted")
	}
	if _, err := Decode([]byte{0xff, 0xff}, Proto); err == nil {
		t.Error("garbage decoded as proto")
	}
}

func TestRender(t *testing.T) {
	p, _ := Encode(Mock(), Proto)
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"json", []byte(`{ "a" : 1 }`), `{"a":1}`},
		{"text", []byte("hello"), `"hello"`},
		{"proto", p, "Gilsun Hong"},
		{"binary", []byte{0xff, 0xfe, 0x00}, "<3 bytes binary>"},
	}
	for _, tt := range tests {
		if got := Render(tt.data); !strings.Contains(got, tt.want) {
			t.Errorf("%s: Render = %q, want it to contain %q", tt.name, got, tt.want)
		}
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	os.WriteFile(path, []byte(`{"presentation":{"credential":{"credentialSubjects":{"name":"Ada"}}}}`), 0644)

	data, err := Load(path, Raw)
	if err != nil || Subject(data) != "Ada" {
		t.Errorf("Load(file) = %q, %v", data, err)
	}
	data, err = Load("", Raw)
	if err != nil || Subject(data) != "Gilsun Hong" {
		t.Errorf("Load(mock) subject = %q, %v", Subject(data), err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing"), Raw); err == nil {
		t.Error("missing file loaded")
	}
}
