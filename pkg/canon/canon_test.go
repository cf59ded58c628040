package canon

import (
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := map[string]interface{}{
		"b": uint64(2),
		"a": uint64(1),
		"z": []byte("hello"),
	}

	data, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var out map[string]interface{}
	if err := Decode(data, &out); err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if len(out) != len(in) {
		t.Fatalf("round-trip length mismatch: got %d, want %d", len(out), len(in))
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	in := map[string]interface{}{
		"z": uint64(1),
		"a": uint64(2),
		"m": uint64(3),
	}

	first, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := Encode(in)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		if string(again) != string(first) {
			t.Fatalf("encoding not deterministic across calls")
		}
	}
}

func TestIsCanonical(t *testing.T) {
	in := map[string]interface{}{"a": uint64(1), "b": uint64(2)}
	data, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !IsCanonical(data) {
		t.Fatalf("expected canonically-encoded data to report canonical")
	}
	if IsCanonical([]byte("not cbor at all")) {
		t.Fatalf("expected garbage bytes to report non-canonical")
	}
}

func TestEncodeBlanked(t *testing.T) {
	type record struct {
		Sig   []byte            `cbor:"sig"`
		Files map[string]string `cbor:"files"`
		Name  string            `cbor:"name"`
	}

	r := record{Sig: []byte("signature-bytes"), Files: map[string]string{"a.txt": "deadbeef"}, Name: "mydrop"}

	blanked, err := EncodeBlanked(r, map[string]interface{}{
		"sig":   []byte{},
		"files": map[string]interface{}{},
	})
	if err != nil {
		t.Fatalf("EncodeBlanked: %v", err)
	}

	var m map[string]interface{}
	if err := Decode(blanked, &m); err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if sig, ok := m["sig"].([]byte); !ok || len(sig) != 0 {
		t.Fatalf("expected sig to be blanked, got %v", m["sig"])
	}
	if files, ok := m["files"].(map[interface{}]interface{}); ok && len(files) != 0 {
		t.Fatalf("expected files to be blanked, got %v", m["files"])
	}
	if m["name"] != "mydrop" {
		t.Fatalf("expected name to survive blanking, got %v", m["name"])
	}
}
