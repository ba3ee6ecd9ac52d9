package resilience

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "plain error", err: errors.New("dial tcp: refused"), want: true},
		{name: "timeout", err: ErrTimeout, want: true},
		{name: "permanent", err: Permanent(errors.New("404")), want: false},
		{name: "wrapped permanent", err: fmt.Errorf("fetch: %w", Permanent(errors.New("404"))), want: false},
		{name: "circuit open", err: ErrCircuitOpen, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestPermanent_Nil(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}
