package validation

import (
	"errors"
	"testing"
)

func TestIsValidAccount(t *testing.T) {
	tests := []struct {
		name    string
		account string
		valid   bool
	}{
		{
			name:    "simple",
			account: "alice",
			valid:   true,
		},
		{
			name:    "with digits and dash",
			account: "hive-onboard1",
			valid:   true,
		},
		{
			name:    "dotted segments",
			account: "bob.fund",
			valid:   true,
		},
		{
			name:    "too short",
			account: "al",
			valid:   false,
		},
		{
			name:    "too long",
			account: "abcdefghijklmnopq",
			valid:   false,
		},
		{
			name:    "starts with digit",
			account: "1alice",
			valid:   false,
		},
		{
			name:    "uppercase",
			account: "Alice",
			valid:   false,
		},
		{
			name:    "short segment",
			account: "bob.ab",
			valid:   false,
		},
		{
			name:    "trailing dash",
			account: "alice-",
			valid:   false,
		},
		{
			name:    "double dash",
			account: "al--ice",
			valid:   false,
		},
		{
			name:    "empty string",
			account: "",
			valid:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidAccount(tt.account)
			if got != tt.valid {
				t.Fatalf("IsValidAccount(%q) = %v, want %v", tt.account, got, tt.valid)
			}
		})
	}
}

func TestNormalizeAccount(t *testing.T) {
	got, err := NormalizeAccount("  @Alice ")
	if err != nil {
		t.Fatalf("NormalizeAccount error: %v", err)
	}
	if got != "alice" {
		t.Fatalf("NormalizeAccount = %q, want alice", got)
	}

	_, err = NormalizeAccount("a")
	if !errors.Is(err, ErrInvalidAccount) {
		t.Fatalf("expected ErrInvalidAccount, got %v", err)
	}
}
