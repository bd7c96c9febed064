package pi42

import "testing"

func TestSignerKnownVector(t *testing.T) {
	s := NewSigner("key")
	got := s.SignString("The quick brown fox jumps over the lazy dog")
	want := "f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8"
	if got != want {
		t.Fatalf("signature mismatch: got %s, want %s", got, want)
	}
}

func TestSignerQueryString(t *testing.T) {
	s := NewSigner("secret")
	got := s.SignString("symbol=XINR&timestamp=1700000000000")
	want := "83388048021798b47f9fc9d12569bfb09b85785037fa3c08408f01a418dee00e"
	if got != want {
		t.Fatalf("signature mismatch: got %s, want %s", got, want)
	}
}

// Serializing the same intent twice must produce byte-identical payloads and
// therefore identical signatures.
func TestOrderSignatureDeterministic(t *testing.T) {
	s := NewSigner("secret")
	req := testOrderRequest()

	first, err := EncodeOrderBody(BuildOrderBody(req, "1700000000000"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	second, err := EncodeOrderBody(BuildOrderBody(req, "1700000000000"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(first) != string(second) {
		t.Fatalf("payloads differ:\n%s\n%s", first, second)
	}
	if s.Sign(first) != s.Sign(second) {
		t.Fatal("signatures differ for identical input")
	}
}
