package cache

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr error
	}{
		{"empty key", "", ErrInvalidKey},
		{"valid key", "deleg:customer-agent:abc123", nil},
		{"too long", strings.Repeat("x", MaxKeyLength+1), ErrKeyTooLong},
		{"contains newline", "key\nwith\nnewlines", ErrInvalidKey},
		{"contains carriage return", "key\rwith\rreturns", ErrInvalidKey},
		{"whitespace only", "   ", ErrInvalidKey},
		{"max length exactly", strings.Repeat("x", MaxKeyLength), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateKey(tt.key); err != tt.wantErr {
				t.Errorf("ValidateKey(%q) = %v, want %v", tt.key, err, tt.wantErr)
			}
		})
	}
}

// stubCache checks that third-party implementations can satisfy Cache.
type stubCache struct{}

func (stubCache) Get(context.Context, string) (Entry[int], bool)        { return Entry[int]{}, false }
func (stubCache) Set(context.Context, string, int, time.Duration) error { return nil }
func (stubCache) Delete(context.Context, string) error                  { return nil }
func (stubCache) Len() int                                              { return 0 }

func TestLoader_WithUncachingBackend(t *testing.T) {
	l := NewLoader[int](stubCache{})

	e, out, err := l.Get(context.Background(), "k", func(context.Context) (int, time.Duration, error) {
		return 42, 0, nil
	})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if e.Value != 42 || out != OutcomeLoaded {
		t.Errorf("Get() = %+v, %v; want value 42 loaded", e, out)
	}
	if !e.ExpiresAt.IsZero() {
		t.Errorf("uncached entry ExpiresAt = %v, want zero", e.ExpiresAt)
	}
}
