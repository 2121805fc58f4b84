package storage

import (
	"errors"
	"testing"
)

func TestParamCipherRoundTrip(t *testing.T) {
	c, err := NewParamCipher("test-secret")
	if err != nil {
		t.Fatalf("NewParamCipher: %v", err)
	}

	params := RuleParams{
		"keywords":      []any{"front row", "aisle"},
		"max_price":     float64(250),
		"below_average": true,
	}

	sealed, err := c.EncryptParams(params)
	if err != nil {
		t.Fatalf("EncryptParams: %v", err)
	}
	if sealed == "" {
		t.Fatal("expected non-empty ciphertext")
	}

	got, err := c.DecryptParams(sealed)
	if err != nil {
		t.Fatalf("DecryptParams: %v", err)
	}

	if v, _ := got.Float("max_price"); v != 250 {
		t.Errorf("max_price = %v, want 250", v)
	}
	if !got.Bool("below_average") {
		t.Error("below_average lost in round trip")
	}
	kw := got.StringList("keywords")
	if len(kw) != 2 || kw[0] != "front row" {
		t.Errorf("keywords = %v", kw)
	}
}

func TestParamCipherNilParams(t *testing.T) {
	c, err := NewParamCipher("test-secret")
	if err != nil {
		t.Fatalf("NewParamCipher: %v", err)
	}

	sealed, err := c.EncryptParams(nil)
	if err != nil {
		t.Fatalf("EncryptParams(nil): %v", err)
	}
	got, err := c.DecryptParams(sealed)
	if err != nil {
		t.Fatalf("DecryptParams: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty params, got %v", got)
	}
}

func TestParamCipherDistinctNonces(t *testing.T) {
	c, err := NewParamCipher("test-secret")
	if err != nil {
		t.Fatalf("NewParamCipher: %v", err)
	}

	params := RuleParams{"max_price": float64(99)}
	first, err := c.EncryptParams(params)
	if err != nil {
		t.Fatalf("EncryptParams: %v", err)
	}
	second, err := c.EncryptParams(params)
	if err != nil {
		t.Fatalf("EncryptParams: %v", err)
	}
	if first == second {
		t.Error("two encryptions of the same params produced identical ciphertext")
	}
}

func TestParamCipherWrongKey(t *testing.T) {
	enc, err := NewParamCipher("key-one")
	if err != nil {
		t.Fatalf("NewParamCipher: %v", err)
	}
	dec, err := NewParamCipher("key-two")
	if err != nil {
		t.Fatalf("NewParamCipher: %v", err)
	}

	sealed, err := enc.EncryptParams(RuleParams{"max_price": float64(10)})
	if err != nil {
		t.Fatalf("EncryptParams: %v", err)
	}
	if _, err := dec.DecryptParams(sealed); err == nil {
		t.Error("expected decryption with wrong key to fail")
	}
}

func TestParamCipherShortCiphertext(t *testing.T) {
	c, err := NewParamCipher("test-secret")
	if err != nil {
		t.Fatalf("NewParamCipher: %v", err)
	}
	if _, err := c.DecryptParams("AAAA"); !errors.Is(err, ErrCiphertextTooShort) {
		t.Errorf("expected ErrCiphertextTooShort, got %v", err)
	}
}

func TestParamCipherEmptySecret(t *testing.T) {
	if _, err := NewParamCipher(""); err == nil {
		t.Error("expected error for empty secret")
	}
}
