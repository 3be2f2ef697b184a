package lifecycle

import (
	"errors"
	"testing"

	"github.com/yofarm-hub/ussd/types"
)

func TestValidateTransition(t *testing.T) {
	cases := []struct {
		from, to types.Status
		ok       bool
	}{
		{types.StatusNew, types.StatusPending, true},
		{types.StatusNew, types.StatusFailed, true},
		{types.StatusNew, types.StatusRegistered, false},
		{types.StatusPending, types.StatusRegistered, true},
		{types.StatusPending, types.StatusFailed, true},
		{types.StatusPending, types.StatusPending, true},
		{types.StatusPending, types.StatusNew, false},
		{types.StatusFailed, types.StatusPending, true},
		{types.StatusFailed, types.StatusFailed, true},
		{types.StatusFailed, types.StatusRegistered, false},
		{types.StatusRegistered, types.StatusFailed, false},
		{types.StatusRegistered, types.StatusPending, false},
		{types.StatusRegistered, types.StatusRegistered, false},
	}

	for _, tc := range cases {
		err := ValidateTransition(tc.from, tc.to)
		if tc.ok && err != nil {
			t.Fatalf("%s -> %s: unexpected error %v", tc.from, tc.to, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s -> %s: expected ErrInvalidTransition, got %v", tc.from, tc.to, err)
		}
	}
}

func TestRegisteredIsSink(t *testing.T) {
	if !IsTerminal(types.StatusRegistered) {
		t.Fatalf("registered must be terminal")
	}
	if IsTerminal(types.StatusPending) {
		t.Fatalf("pending must not be terminal")
	}
	if got := AllowedTransitions(types.StatusRegistered); len(got) != 0 {
		t.Fatalf("registered must have no transitions, got %v", got)
	}
	if got := AllowedTransitions(types.StatusFailed); len(got) != 2 {
		t.Fatalf("unexpected failed transitions: %v", got)
	}
	if err := ValidateTransition("archived", types.StatusNew); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("unknown status should be rejected, got %v", err)
	}
}
