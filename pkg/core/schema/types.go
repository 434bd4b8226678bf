// Package schema provides the engine-independent model of tables, columns and
// indexes, the canonical type vocabulary, and the comparisons used to decide
// whether a live table matches its desired definition.
package schema

import (
	"regexp"
	"strings"
)

// Canonical SQL types.
const (
	SQLTypeID       = "id"
	SQLTypeString   = "string"
	SQLTypeInteger  = "integer"
	SQLTypeDouble   = "double"
	SQLTypeDate     = "date"
	SQLTypeTime     = "time"
	SQLTypeDateTime = "datetime"
	SQLTypeBlob     = "blob"
	SQLTypeText     = "text"
)

// Scalar kinds used when coercing default values.
const (
	ScalarString  = "string"
	ScalarInteger = "integer"
	ScalarDouble  = "double"
)

var patternNativeType = regexp.MustCompile(`([a-z]+)\(([^)]*)\)`)

var whitespace = regexp.MustCompile(`\s`)

// DefaultCoercer normalizes a raw column default for a parsed native type
// token, so that equivalent spellings compare equal.
type DefaultCoercer interface {
	SQLTypeDefault(token string, raw interface{}) interface{}
}

// DefaultCoercerFunc adapts a function to DefaultCoercer.
type DefaultCoercerFunc func(token string, raw interface{}) interface{}

func (f DefaultCoercerFunc) SQLTypeDefault(token string, raw interface{}) interface{} {
	return f(token, raw)
}

// Types maps an engine's native column types onto the canonical vocabulary.
// Engines extend the base tables at construction; afterwards a Types is
// read-only and safe to share.
type Types struct {
	natives    map[string][]string
	order      []string
	aliases    map[string]string
	scalars    map[string]string
	coercer    DefaultCoercer
	compatible func(a, b string) bool
}

// NewTypes returns the base type tables shared by every engine.
func NewTypes(coercer DefaultCoercer) *Types {
	t := &Types{
		natives: map[string][]string{},
		aliases: map[string]string{"int": SQLTypeInteger},
		scalars: map[string]string{
			SQLTypeString:   ScalarString,
			SQLTypeInteger:  ScalarInteger,
			SQLTypeDouble:   ScalarDouble,
			SQLTypeDate:     ScalarString,
			SQLTypeTime:     ScalarString,
			SQLTypeDateTime: ScalarInteger,
		},
		coercer: coercer,
	}
	t.WithNatives(SQLTypeString, "char", "varchar", "text")
	t.WithNatives(SQLTypeInteger, SQLTypeInteger, "bit")
	t.WithNatives(SQLTypeDouble, "decimal")
	t.WithNatives(SQLTypeDate, "date")
	t.WithNatives(SQLTypeTime, "time")
	t.WithNatives(SQLTypeDateTime, "datetime")
	return t
}

// WithNatives maps native tokens to a canonical type, moving any token
// already claimed by another canonical type.
func (t *Types) WithNatives(canonical string, natives ...string) *Types {
	if _, ok := t.natives[canonical]; !ok {
		t.order = append(t.order, canonical)
	}
	for _, n := range natives {
		n = strings.ToLower(n)
		for c, list := range t.natives {
			t.natives[c] = removeString(list, n)
		}
		t.natives[canonical] = append(t.natives[canonical], n)
	}
	return t
}

// WithAlias resolves alias to token before lookup.
func (t *Types) WithAlias(alias, token string) *Types {
	t.aliases[strings.ToLower(alias)] = strings.ToLower(token)
	return t
}

// WithScalar sets the scalar kind of a canonical type.
func (t *Types) WithScalar(canonical, kind string) *Types {
	t.scalars[canonical] = kind
	return t
}

// WithCompatible overrides the fallback used by NativeTypesCompatible when
// tokens differ within the same canonical type.
func (t *Types) WithCompatible(fn func(a, b string) bool) *Types {
	t.compatible = fn
	return t
}

// Natives returns the native tokens of a canonical type.
func (t *Types) Natives(canonical string) []string {
	return append([]string(nil), t.natives[canonical]...)
}

// ParseSQLType splits a native type into its alias-resolved token and the
// raw size string. hasSize is false when no parenthesized size is present.
// An empty native type yields an empty token.
func (t *Types) ParseSQLType(native string) (token string, size string, hasSize bool) {
	if native == "" {
		return "", "", false
	}
	lower := strings.ToLower(native)
	token = lower
	if m := patternNativeType.FindStringSubmatch(lower); m != nil {
		token = m[1]
		size = whitespace.ReplaceAllString(m[2], "")
		hasSize = true
	}
	if alias, ok := t.aliases[token]; ok {
		token = alias
	}
	return token, size, hasSize
}

// NativeTypeToSQLType returns the canonical type of native, or def when the
// token is unknown.
func (t *Types) NativeTypeToSQLType(native, def string) string {
	token, _, _ := t.ParseSQLType(native)
	return t.tokenToSQLType(token, def)
}

func (t *Types) tokenToSQLType(token, def string) string {
	for _, canonical := range t.order {
		for _, n := range t.natives[canonical] {
			if n == token {
				return canonical
			}
		}
	}
	return def
}

// NativeTypeToDataType returns the scalar kind of a native type.
func (t *Types) NativeTypeToDataType(native string) string {
	return t.scalars[t.NativeTypeToSQLType(native, SQLTypeString)]
}

// IsText reports whether native stores character data.
func (t *Types) IsText(native string) bool {
	switch t.NativeTypeToSQLType(native, "") {
	case SQLTypeString, SQLTypeText:
		return true
	}
	return false
}

// NativeTypeDefault coerces a raw default through the engine's rules.
func (t *Types) NativeTypeDefault(native string, raw interface{}) interface{} {
	if t.coercer == nil {
		return raw
	}
	token, _, _ := t.ParseSQLType(native)
	return t.coercer.SQLTypeDefault(token, raw)
}

// NativeTypesEqual reports whether two native types are schema-equivalent.
// Integer and temporal precision is ignored; string and decimal sizes are not.
func (t *Types) NativeTypesEqual(a, b string) bool {
	t0, s0, h0 := t.ParseSQLType(a)
	t1, s1, h1 := t.ParseSQLType(b)
	bt0 := t.tokenToSQLType(t0, t0)
	bt1 := t.tokenToSQLType(t1, t1)
	if bt0 != bt1 {
		return false
	}
	switch bt0 {
	case SQLTypeDateTime, SQLTypeID, SQLTypeInteger, SQLTypeTime, SQLTypeDate:
		return t0 == t1
	}
	return t0 == t1 && s0 == s1 && h0 == h1
}

// NativeTypesCompatible reports whether a column of type a can be altered in
// place to type b. Unknown tokens are their own category.
func (t *Types) NativeTypesCompatible(a, b string) bool {
	t0, s0, h0 := t.ParseSQLType(a)
	t1, s1, h1 := t.ParseSQLType(b)
	bt0 := t.tokenToSQLType(t0, t0)
	bt1 := t.tokenToSQLType(t1, t1)
	if bt0 != bt1 {
		return false
	}
	if bt0 != SQLTypeInteger && (s0 != s1 || h0 != h1) {
		return false
	}
	if t0 == t1 {
		return true
	}
	if t.compatible != nil {
		return t.compatible(bt0, bt1)
	}
	return strings.EqualFold(bt0, bt1)
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
