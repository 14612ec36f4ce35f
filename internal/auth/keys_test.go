package auth

import (
	"strings"
	"testing"
)

func TestHashKey(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "whitespace is trimmed",
			input:    "  tf_abc  ",
			expected: HashKey("tf_abc"),
		},
		{
			name:     "empty string",
			input:    "",
			expected: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", // SHA256 of empty
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HashKey(tt.input); got != tt.expected {
				t.Errorf("HashKey() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestHashKey_DifferentInputsDifferentOutputs(t *testing.T) {
	hash1 := HashKey("key1")
	hash2 := HashKey("key2")

	if hash1 == hash2 {
		t.Error("Different keys produced same hash")
	}
	if len(hash1) != 64 {
		t.Errorf("HashKey() returned %d chars, want 64", len(hash1))
	}
}

func TestGenerateKey(t *testing.T) {
	key1, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	key2, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	if !strings.HasPrefix(key1, KeyPrefix) {
		t.Errorf("expected prefix %q, got %s", KeyPrefix, key1)
	}
	if len(key1) != len(KeyPrefix)+64 {
		t.Errorf("unexpected key length %d", len(key1))
	}
	if key1 == key2 {
		t.Error("GenerateKey returned the same key twice")
	}
}
