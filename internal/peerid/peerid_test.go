package peerid

import "testing"

func TestGenerateHasFixedPrefixAndLength(t *testing.T) {
	id := Generate()
	if len(id) != 20 {
		t.Fatalf("len(id) = %d, want 20", len(id))
	}
	if string(id[:len(clientPrefix)]) != clientPrefix {
		t.Fatalf("prefix = %q, want %q", id[:len(clientPrefix)], clientPrefix)
	}
}

func TestGenerateVariesBetweenCalls(t *testing.T) {
	a := Generate()
	b := Generate()
	if a == b {
		t.Fatalf("two consecutive Generate() calls produced the same peer_id")
	}
}
