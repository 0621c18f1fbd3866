package usecase

import (
	"context"
	"errors"
	"testing"

	"torrentsqlite/internal/domain"
)

func TestWrapResolve(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantNil bool
		wantIs  error
	}{
		{"nil error returns nil", nil, true, nil},
		{"plain error becomes unresolvable", errors.New("no peers"), false, domain.ErrCannotResolveContent},
		{"context error becomes unresolvable", context.DeadlineExceeded, false, domain.ErrCannotResolveContent},
		{"session error kept", domain.ErrSession, false, domain.ErrSession},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := wrapResolve(tt.err)
			if tt.wantNil {
				if got != nil {
					t.Fatalf("expected nil, got %v", got)
				}
				return
			}
			if !errors.Is(got, tt.wantIs) {
				t.Fatalf("expected errors.Is(%v, %v) to be true", got, tt.wantIs)
			}
		})
	}
}

func TestWrapResolveKeepsResolveErrorUnwrapped(t *testing.T) {
	in := domain.ErrCannotResolveContent
	if got := wrapResolve(in); got != in {
		t.Fatalf("wrapResolve re-wrapped %v as %v", in, got)
	}
}

func TestResultLabel(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{context.Canceled, "canceled"},
		{domain.ErrTimeout, "timeout"},
		{domain.ErrSession, "session"},
	}
	for _, tt := range tests {
		if got := resultLabel(tt.err); got != tt.want {
			t.Fatalf("resultLabel(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
