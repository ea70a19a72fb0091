package security

import (
	"encoding/base64"
	"testing"
)

func TestNewSessionToken_Size(t *testing.T) {
	cases := []struct {
		n       int
		wantErr bool
	}{
		{31, true},
		{32, false},
		{48, false},
		{64, false},
		{65, true},
		{0, true},
	}
	for _, tc := range cases {
		tok, err := NewSessionToken(tc.n)
		if (err != nil) != tc.wantErr {
			t.Errorf("NewSessionToken(%d) err = %v, wantErr %v", tc.n, err, tc.wantErr)
			continue
		}
		if tc.wantErr {
			continue
		}
		raw, err := base64.RawURLEncoding.DecodeString(tok)
		if err != nil {
			t.Fatalf("token %q is not base64url: %v", tok, err)
		}
		if len(raw) != tc.n {
			t.Errorf("decoded length = %d, want %d", len(raw), tc.n)
		}
	}
}

func TestNewSessionToken_Unique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		tok, err := NewSessionToken(MinSessionTokenBytes)
		if err != nil {
			t.Fatalf("NewSessionToken: %v", err)
		}
		if _, dup := seen[tok]; dup {
			t.Fatalf("duplicate token after %d draws", i)
		}
		seen[tok] = struct{}{}
	}
}

func TestSessionTokenGenerator(t *testing.T) {
	if _, err := SessionTokenGenerator(8); err == nil {
		t.Error("SessionTokenGenerator(8) should fail")
	}
	gen, err := SessionTokenGenerator(32)
	if err != nil {
		t.Fatalf("SessionTokenGenerator: %v", err)
	}
	a, _ := gen()
	b, _ := gen()
	if a == "" || a == b {
		t.Errorf("generator returned %q and %q", a, b)
	}
}

func TestHashSessionToken(t *testing.T) {
	h1 := HashSessionToken("tok")
	if h1 != HashSessionToken("tok") {
		t.Error("HashSessionToken not deterministic")
	}
	if len(h1) != 64 {
		t.Errorf("hash length = %d, want 64", len(h1))
	}
	if h1 == HashSessionToken("tok2") {
		t.Error("different tokens produced the same hash")
	}
}

func TestFingerprint(t *testing.T) {
	if got := Fingerprint(""); got != "" {
		t.Errorf("Fingerprint(\"\") = %q, want empty", got)
	}
	fp := Fingerprint("secret-token")
	if len(fp) != fingerprintLen {
		t.Errorf("len(Fingerprint) = %d, want %d", len(fp), fingerprintLen)
	}
	if fp != HashSessionToken("secret-token")[:fingerprintLen] {
		t.Error("Fingerprint should be a prefix of the token hash")
	}
}
