package crypto

import (
	"sync"
	"testing"
)

var (
	testKeyOnce sync.Once
	testKey     *PrivateKey
)

// sharedTestKey amortizes RSA-4096 generation cost across this file's tests.
func sharedTestKey(t *testing.T) *PrivateKey {
	t.Helper()
	testKeyOnce.Do(func() {
		k, err := GenerateKeypair()
		if err != nil {
			t.Fatalf("GenerateKeypair: %v", err)
		}
		testKey = k
	})
	return testKey
}

func TestSignVerifyRoundTrip(t *testing.T) {
	priv := sharedTestKey(t)
	pub := priv.Public()

	m := map[string]interface{}{"a": uint64(1), "b": uint64(2)}

	sig, err := priv.Sign(m)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if err := pub.Verify(sig, m); err != nil {
		t.Fatalf("Verify of unmodified map should succeed, got: %v", err)
	}

	mutated := map[string]interface{}{"a": uint64(1), "b": uint64(3)}
	if err := pub.Verify(sig, mutated); err == nil {
		t.Fatalf("Verify of mutated map should fail")
	}
}

func TestNodeIDFromPublicKey(t *testing.T) {
	priv := sharedTestKey(t)
	pub := priv.Public()

	id1, err := pub.NodeID()
	if err != nil {
		t.Fatalf("NodeID: %v", err)
	}
	id2, err := pub.NodeID()
	if err != nil {
		t.Fatalf("NodeID: %v", err)
	}
	if !id1.Equal(id2) {
		t.Fatalf("NodeID should be deterministic for the same key")
	}
}

func TestNodeIDEqualConstantTime(t *testing.T) {
	var a, b NodeID
	for i := range a {
		a[i] = byte(i)
		b[i] = byte(i)
	}
	if !a.Equal(b) {
		t.Fatalf("expected equal node IDs to compare equal")
	}
	b[0] ^= 0xFF
	if a.Equal(b) {
		t.Fatalf("expected differing node IDs to compare unequal")
	}
}

func TestPrivateKeyFileRoundTrip(t *testing.T) {
	priv := sharedTestKey(t)
	dir := t.TempDir()
	path := dir + "/node.pem"

	if err := priv.SavePrivateToFile(path); err != nil {
		t.Fatalf("SavePrivateToFile: %v", err)
	}

	loaded, err := LoadPrivateFromFile(path)
	if err != nil {
		t.Fatalf("LoadPrivateFromFile: %v", err)
	}

	m := map[string]interface{}{"x": uint64(1)}
	sig, err := loaded.Sign(m)
	if err != nil {
		t.Fatalf("Sign with reloaded key: %v", err)
	}
	if err := priv.Public().Verify(sig, m); err != nil {
		t.Fatalf("Verify signature from reloaded key: %v", err)
	}
}

func TestPublicKeyFileRoundTrip(t *testing.T) {
	priv := sharedTestKey(t)
	pub := priv.Public()
	dir := t.TempDir()
	path := dir + "/node.pub.pem"

	if err := pub.SavePublicToFile(path); err != nil {
		t.Fatalf("SavePublicToFile: %v", err)
	}

	loaded, err := LoadPublicFromFile(path)
	if err != nil {
		t.Fatalf("LoadPublicFromFile: %v", err)
	}

	id1, _ := pub.NodeID()
	id2, _ := loaded.NodeID()
	if !id1.Equal(id2) {
		t.Fatalf("reloaded public key should produce the same node ID")
	}
}

func TestHashMapDeterministic(t *testing.T) {
	m := map[string]interface{}{"k": []byte("v")}
	h1, err := HashMap(m)
	if err != nil {
		t.Fatalf("HashMap: %v", err)
	}
	h2, err := HashMap(m)
	if err != nil {
		t.Fatalf("HashMap: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("HashMap should be deterministic")
	}
}
