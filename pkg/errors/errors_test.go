package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorIsByKind(t *testing.T) {
	err := New(KindNoResults, "no rows for %s", "SELECT 1")
	wrapped := fmt.Errorf("outer: %w", err)

	if !stderrors.Is(wrapped, ErrNoResults) {
		t.Error("Expected wrapped error to match ErrNoResults")
	}
	if stderrors.Is(wrapped, ErrKeyNotFound) {
		t.Error("Expected wrapped error not to match ErrKeyNotFound")
	}
	if KindOf(wrapped) != KindNoResults {
		t.Errorf("Expected kind NO_RESULTS, got %s", KindOf(wrapped))
	}
}

func TestErrorVars(t *testing.T) {
	err := Connect(stderrors.New("refused"), "mysql://root@localhost/app")
	if !strings.Contains(err.Error(), "mysql://root@localhost/app") {
		t.Errorf("Expected safe URL in message, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), "refused") {
		t.Errorf("Expected cause in message, got %q", err.Error())
	}
	if !stderrors.Is(err, ErrConnect) {
		t.Error("Expected Connect error to match ErrConnect")
	}
}

func TestKeyNotFoundSuggestion(t *testing.T) {
	err := KeyNotFound("column", "emial", []string{"id", "email", "name"})
	if err.Suggestion != "Did you mean 'email'?" {
		t.Errorf("Unexpected suggestion %q", err.Suggestion)
	}
	if !strings.Contains(err.Print(), "Suggestion:") {
		t.Error("Expected suggestion in printed error")
	}
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"users", "users", 0},
		{"user", "users", 1},
	}
	for _, tt := range tests {
		if got := levenshtein(tt.a, tt.b); got != tt.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
