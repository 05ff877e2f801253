package cli

import (
	"errors"
	"fmt"
	"testing"
)

func TestConfigError(t *testing.T) {
	tests := []struct {
		err  *ConfigError
		want string
	}{
		{NewConfigError("ledger.backend", "unknown backend \"mysql\""), `config error in ledger.backend: unknown backend "mysql"`},
		{NewConfigError("", "file not found"), "config error: file not found"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestCommandError(t *testing.T) {
	underlying := errors.New("ledger unavailable")
	err := NewCommandError("reconcile", underlying)

	if want := "command reconcile failed: ledger unavailable"; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, underlying) {
		t.Error("CommandError should unwrap to the underlying error")
	}
	if NewCommandError("run", nil) != nil {
		t.Error("NewCommandError(nil) should be nil")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, ExitOK},
		{"config error", NewConfigError("pricing", "bad rate"), ExitConfig},
		{"wrapped config error", NewCommandError("run", fmt.Errorf("load: %w", NewConfigError("", "bad"))), ExitConfig},
		{"other error", errors.New("boom"), ExitError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}
