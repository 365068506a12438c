// Package payload produces the demo messages a node sends: a mock verifiable
// presentation document, optionally wrapped as a protobuf Struct.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Encodings understood by Encode and Decode.
const (
	Raw   = "raw"
	Proto = "proto"
)

// mockPresentation is a student ID credential presented by its holder.
const mockPresentation = `{
  "presentation": {
    "type": "verifiablePresentation",
    "id": "did:waff:W6hLpTWEbsUW/0Hs6NglWF3g",
    "credential": {
      "type": "verifiableCredential",
      "issuer": {"name": "Hanyang University", "id": "did:waff:TCSw+75WvYTptwNP8q5GxSjQ"},
      "issuanceDate": "1705900000",
      "expirationDate": "1706900000",
      "credentialSubjects": {
        "id": "did:waff:W6hLpTWEbsUW/0Hs6NglWF3g",
        "name": "Gilsun Hong",
        "subjects": [{
          "document": {
            "name": "Student ID",
            "contents": [
              {"key": "name", "value": "Gilsun Hong"},
              {"key": "student_number", "value": "2018380355"},
              {"key": "department", "value": "Computer Software"},
              {"key": "admitted", "value": "2018.03"}
            ]
          }
        }]
      },
      "proof": {
        "signatureAlgorithm": "secp256k1",
        "created": "1705900000",
        "creatorID": "did:waff:TCSw+75WvYTptwNP8q5GxSjQ",
        "jws": "MEUCIQCKWDIAJQbnt/t42k0NHfJu6xpEX5QwDbNaIUBgPT1oCgIgE9rZQqPRW+uIjkXltzbMOfZqib43IxKMCmJ0WjDTXOo="
      },
      "verifier": {"name": "Hyuna Kim", "id": "did:waff:Xz02rvh0jnQMa0IQEywY0LSQ"}
    },
    "proof": {
      "signatureAlgorithm": "secp256k1",
      "created": "1706000000",
      "creatorID": "did:waff:W6hLpTWEbsUW/0Hs6NglWF3g",
      "jws": "MEQCIBrDHgn7j+XQkQZom2NywbA/aNJxswk2zjwb/7eMrYEaAiBjN45eLYO7jx69IaceDzhTWEF+kx//URLDY/GAnEmvvA=="
    }
  },
  "vc_certification": {
    "certificationName": "Hanyang University certificate",
    "signatureAlgorithm": "secp256k1",
    "id": "did:waff:TCSw+75WvYTptwNP8q5GxSjQ",
    "name": "Hanyang University",
    "created": "1705923040"
  },
  "vp_certification": {
    "certificationName": "Gilsun Hong certificate",
    "signatureAlgorithm": "secp256k1",
    "id": "did:waff:W6hLpTWEbsUW/0Hs6NglWF3g",
    "name": "Gilsun Hong",
    "created": "1705923040"
  }
}`

// Mock returns a fresh copy of the mock presentation document.
func Mock() []byte {
	return []byte(mockPresentation)
}

// Load reads the document at path, or the mock when path is empty, and
// encodes it.
func Load(path, encoding string) ([]byte, error) {
	doc := Mock()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("payload: %w", err)
		}
		doc = b
	}
	return Encode(doc, encoding)
}

// Encode prepares doc for sending. Raw sends the bytes as they are; proto
// requires a JSON object and marshals it as a google.protobuf.Struct.
func Encode(doc []byte, encoding string) ([]byte, error) {
	switch encoding {
	case Raw, "":
		return append([]byte(nil), doc...), nil
	case Proto:
		var v map[string]interface{}
		if err := json.Unmarshal(doc, &v); err != nil {
			return nil, fmt.Errorf("payload: proto encoding needs a JSON object: %w", err)
		}
		s, err := structpb.NewStruct(v)
		if err != nil {
			return nil, fmt.Errorf("payload: %w", err)
		}
		return proto.MarshalOptions{Deterministic: true}.Marshal(s)
	default:
		return nil, fmt.Errorf("payload: unknown encoding %q", encoding)
	}
}

// Decode reverses Encode and returns the JSON document.
func Decode(data []byte, encoding string) ([]byte, error) {
	switch encoding {
	case Raw, "":
		return append([]byte(nil), data...), nil
	case Proto:
		var s structpb.Struct
		if err := proto.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("payload: %w", err)
		}
		return protojson.Marshal(&s)
	default:
		return nil, fmt.Errorf("payload: unknown encoding %q", encoding)
	}
}

// Render makes a received message readable without knowing how the sender
// encoded it: JSON is compacted, a protobuf Struct is shown as JSON, other
// text is quoted and binary is summarized.
func Render(data []byte) string {
	if json.Valid(data) {
		var buf bytes.Buffer
		if json.Compact(&buf, data) == nil {
			return buf.String()
		}
	}
	var s structpb.Struct
	if proto.Unmarshal(data, &s) == nil && len(s.GetFields()) > 0 {
		if b, err := protojson.Marshal(&s); err == nil {
			return string(b)
		}
	}
	if utf8.Valid(data) {
		return fmt.Sprintf("%q", data)
	}
	return fmt.Sprintf("<%d bytes binary>", len(data))
}

// Subject extracts presentation.credential.credentialSubjects.name from a
// JSON presentation, or "" if absent.
func Subject(doc []byte) string {
	var p struct {
		Presentation struct {
			Credential struct {
				CredentialSubjects struct {
					Name string `json:"name"`
				} `json:"credentialSubjects"`
			} `json:"credential"`
		} `json:"presentation"`
	}
	if json.Unmarshal(doc, &p) != nil {
		return ""
	}
	return p.Presentation.Credential.CredentialSubjects.Name
}
