// Package errors provides the kinded error type shared by every layer of
// schemasync, with contextual variables and helpful suggestions.
package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"

	"github.com/fatih/color"
)

// Kind represents the category of error.
type Kind string

const (
	KindConnect       Kind = "CONNECT"
	KindDuplicate     Kind = "DUPLICATE"
	KindTableNotFound Kind = "TABLE_NOT_FOUND"
	KindNoResults     Kind = "NO_RESULTS"
	KindKeyNotFound   Kind = "KEY_NOT_FOUND"
	KindSQLException  Kind = "SQL_EXCEPTION"
	KindSemantics     Kind = "SEMANTICS"
	KindUnsupported   Kind = "UNSUPPORTED"
	KindUnimplemented Kind = "UNIMPLEMENTED"

	// Raised by SQL parsing and script validation.
	KindParse Kind = "PARSE"
	// Lock wait expired; distinct from a locking semantics failure.
	KindTimeoutExpired Kind = "TIMEOUT_EXPIRED"
	// Shell command exited non-zero.
	KindCommandFailed Kind = "COMMAND_FAILED"
	KindConfiguration Kind = "CONFIGURATION"
)

// Sentinels for errors.Is matching by kind.
var (
	ErrConnect        = &Error{Kind: KindConnect}
	ErrDuplicate      = &Error{Kind: KindDuplicate}
	ErrTableNotFound  = &Error{Kind: KindTableNotFound}
	ErrNoResults      = &Error{Kind: KindNoResults}
	ErrKeyNotFound    = &Error{Kind: KindKeyNotFound}
	ErrSQLException   = &Error{Kind: KindSQLException}
	ErrSemantics      = &Error{Kind: KindSemantics}
	ErrUnsupported    = &Error{Kind: KindUnsupported}
	ErrUnimplemented  = &Error{Kind: KindUnimplemented}
	ErrParse          = &Error{Kind: KindParse}
	ErrTimeoutExpired = &Error{Kind: KindTimeoutExpired}
	ErrCommandFailed  = &Error{Kind: KindCommandFailed}
	ErrConfiguration  = &Error{Kind: KindConfiguration}
)

// Error is a kinded error with contextual variables.
//
// Message may reference variables as {name}; they are substituted from Vars
// when the error is rendered. Vars must never carry credentials.
type Error struct {
	Kind       Kind
	Message    string
	Vars       map[string]string
	Suggestion string
	SQL        string
	Err        error
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{Kind: kind, Message: msg}
}

// Wrap creates an error of the given kind around a cause.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	e := New(kind, format, args...)
	e.Err = err
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Text()
	if e.Err != nil {
		if msg == "" {
			return fmt.Sprintf("[%s] %v", e.Kind, e.Err)
		}
		return fmt.Sprintf("[%s] %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

// Text returns the message with variables substituted.
func (e *Error) Text() string {
	if len(e.Vars) == 0 {
		return e.Message
	}
	pairs := make([]string, 0, len(e.Vars)*2)
	for k, v := range e.Vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind when the target carries no message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Message == "" && t.Err == nil {
		return e.Kind == t.Kind
	}
	return e == t
}

// WithVar sets a message variable.
func (e *Error) WithVar(name, value string) *Error {
	if e.Vars == nil {
		e.Vars = map[string]string{}
	}
	e.Vars[name] = value
	return e
}

// WithVars merges message variables.
func (e *Error) WithVars(vars map[string]string) *Error {
	for k, v := range vars {
		e.WithVar(k, v)
	}
	return e
}

// WithSuggestion adds a suggestion to the error.
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// WithSQL records the statement that failed.
func (e *Error) WithSQL(sql string) *Error {
	e.SQL = sql
	return e
}

// Print outputs the error in a user-friendly colored format.
func (e *Error) Print() string {
	var sb strings.Builder

	red := color.New(color.FgRed, color.Bold).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()

	sb.WriteString(fmt.Sprintf("%s %s\n", red("Error:"), e.Text()))
	sb.WriteString(fmt.Sprintf("  %s\n", gray("kind: "+string(e.Kind))))

	if len(e.Vars) > 0 {
		keys := make([]string, 0, len(e.Vars))
		for k := range e.Vars {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("  %s\n", gray(k+": "+e.Vars[k])))
		}
	}
	if e.SQL != "" {
		sb.WriteString(fmt.Sprintf("\n  %s\n", gray(e.SQL)))
	}
	if e.Err != nil {
		sb.WriteString(fmt.Sprintf("\n  caused by: %v\n", e.Err))
	}
	if e.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("\n%s %s\n", cyan("Suggestion:"), e.Suggestion))
	}
	return sb.String()
}

// KindOf returns the kind of the first *Error in the chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Is and As forward to the standard library so callers need one import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target interface{}) bool { return stderrors.As(err, target) }

// Connect creates a connection failure.
func Connect(err error, safeURL string) *Error {
	return Wrap(KindConnect, err, "Unable to connect to {url}").WithVar("url", safeURL)
}

// Semantics creates a caller-misuse error.
func Semantics(format string, args ...interface{}) *Error {
	return New(KindSemantics, format, args...)
}

// KeyNotFound creates a missing key error with a suggestion drawn from options.
func KeyNotFound(what, key string, options []string) *Error {
	e := New(KindKeyNotFound, "{what} {key} not found").WithVar("what", what).WithVar("key", key)
	if s := SuggestSimilar(key, options); s != "" {
		e.Suggestion = s
	}
	return e
}

// Unsupported creates an error for a feature the engine does not implement.
func Unsupported(engine, feature string) *Error {
	return New(KindUnsupported, "{engine} does not support {feature}").
		WithVar("engine", engine).WithVar("feature", feature)
}

// Unimplemented creates an error for an operation with no engine implementation.
func Unimplemented(engine, method string) *Error {
	return New(KindUnimplemented, "{method} is not implemented for {engine}").
		WithVar("engine", engine).WithVar("method", method)
}

// Suggestions provides common suggestion messages.
var Suggestions = map[Kind]string{
	KindConnect:        "Check the database URL and that the server is reachable",
	KindTableNotFound:  "Run 'schemasync tables' to list the tables in the database",
	KindUnsupported:    "This feature is not supported by your database engine",
	KindTimeoutExpired: "Another process holds the lock; retry later or raise the timeout",
	KindConfiguration:  "Check schemasync.yaml and the .env file",
}

// SuggestSimilar finds similar strings using Levenshtein distance.
func SuggestSimilar(input string, options []string) string {
	input = strings.ToLower(input)
	var best string
	bestDist := len(input) + 1

	for _, opt := range options {
		dist := levenshtein(input, strings.ToLower(opt))
		if dist < bestDist && dist <= 3 {
			bestDist = dist
			best = opt
		}
	}

	if best != "" {
		return fmt.Sprintf("Did you mean '%s'?", best)
	}
	return ""
}

// levenshtein calculates the edit distance between two strings.
func levenshtein(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
