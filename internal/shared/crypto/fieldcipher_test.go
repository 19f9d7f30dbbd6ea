package crypto

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func testCipher(t *testing.T) *FieldCipher {
	t.Helper()
	key := bytes.Repeat([]byte{0x42}, 32)
	fc, err := NewFieldCipher(key)
	if err != nil {
		t.Fatalf("NewFieldCipher: %v", err)
	}
	return fc
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	fc := testCipher(t)

	for _, plaintext := range []string{
		"L898902C3",
		"P<UTOERIKSSON<<ANNA<MARIA",
		"a",
		strings.Repeat("x", 4096),
	} {
		ct, err := fc.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", plaintext, err)
		}
		if strings.Count(ct, ":") != 2 {
			t.Fatalf("ciphertext %q is not an iv:authTag:ciphertext triple", ct)
		}
		if strings.Contains(ct, plaintext) {
			t.Fatalf("ciphertext contains plaintext")
		}
		got, err := fc.Decrypt(ct)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if got != plaintext {
			t.Errorf("round trip = %q, want %q", got, plaintext)
		}
	}
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	fc := testCipher(t)
	a, err := fc.Encrypt("L898902C3")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	b, err := fc.Encrypt("L898902C3")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if a == b {
		t.Error("two encryptions of the same plaintext produced identical output")
	}
}

func TestDecryptRejectsTamperedTag(t *testing.T) {
	fc := testCipher(t)
	ct, err := fc.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	parts := strings.Split(ct, ":")
	tag, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decode tag: %v", err)
	}
	tag[0] ^= 0x01
	parts[1] = base64.StdEncoding.EncodeToString(tag)

	if _, err := fc.Decrypt(strings.Join(parts, ":")); err == nil {
		t.Fatal("Decrypt accepted a tampered auth tag")
	}
}

func TestDecryptRejectsMalformedInput(t *testing.T) {
	fc := testCipher(t)

	for _, in := range []string{
		"",
		"notbase64",
		"a:b",
		"a:b:c:d",
		"!!!:!!!:!!!",
		base64.StdEncoding.EncodeToString([]byte("short")) + ":" +
			base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{1}, 16)) + ":" +
			base64.StdEncoding.EncodeToString([]byte("x")),
	} {
		if _, err := fc.Decrypt(in); !errors.Is(err, ErrMalformedCiphertext) {
			t.Errorf("Decrypt(%q) = %v, want ErrMalformedCiphertext", in, err)
		}
	}
}

func TestNewFieldCipherKeyLength(t *testing.T) {
	if _, err := NewFieldCipher(make([]byte, 16)); !errors.Is(err, ErrKeyLength) {
		t.Errorf("16-byte key: err = %v, want ErrKeyLength", err)
	}
	if _, err := NewFieldCipherFromHex(strings.Repeat("ab", 32)); err != nil {
		t.Errorf("valid hex key: %v", err)
	}
	if _, err := NewFieldCipherFromHex("abcd"); !errors.Is(err, ErrKeyLength) {
		t.Errorf("short hex key: err = %v, want ErrKeyLength", err)
	}
}
