package cli

import (
	"errors"
	"fmt"
	"testing"
)

func TestExitCode(t *testing.T) {
	base := errors.New("boom")
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"plain", base, ExitFailure},
		{"config", NewConfigError("format", "bad"), ExitUsage},
		{"blocked", WithExitCode(ExitBlocked, base), ExitBlocked},
		{"wrapped exit", fmt.Errorf("enforce: %w", WithExitCode(ExitRejected, base)), ExitRejected},
		{"command wraps config", NewCommandError("run", NewConfigError("", "x")), ExitUsage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWithExitCode(t *testing.T) {
	if WithExitCode(ExitBlocked, nil) != nil {
		t.Error("nil error must stay nil")
	}
	base := errors.New("denied")
	err := WithExitCode(ExitBlocked, base)
	if !errors.Is(err, base) || err.Error() != "denied" {
		t.Errorf("err = %v", err)
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{NewConfigError("policy.file_path", "not found"), "config error in policy.file_path: not found"},
		{NewConfigError("", "failed to load"), "config error: failed to load"},
		{NewCommandError("run", errors.New("port in use")), "command run failed: port in use"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}
