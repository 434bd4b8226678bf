package postgres

import (
	"regexp"
	"strings"

	"github.com/nexus-db/schemasync/pkg/core/schema"
	"github.com/nexus-db/schemasync/pkg/dialects"
)

// NewTypes returns the PostgreSQL type tables. Spellings that PostgreSQL
// treats as the same type resolve to one token, so "int4" equals
// "integer" and "double" equals "double precision".
func NewTypes() *schema.Types {
	var types *schema.Types
	types = schema.NewTypes(schema.DefaultCoercerFunc(func(token string, raw interface{}) interface{} {
		return sqlTypeDefault(types, token, raw)
	}))
	types.
		WithNatives(schema.SQLTypeInteger, "smallint", "bigint", "boolean").
		WithNatives(schema.SQLTypeString, "uuid", "inet", "cidr", "citext").
		WithNatives(schema.SQLTypeText, "text", "json", "jsonb", "xml").
		WithNatives(schema.SQLTypeBlob, "bytea").
		WithNatives(schema.SQLTypeDouble, "real", "float8", "numeric").
		WithNatives(schema.SQLTypeDateTime, "timestamp", "timestamptz").
		WithNatives(schema.SQLTypeTime, "timetz").
		WithAlias("int2", "smallint").
		WithAlias("int4", "integer").
		WithAlias("int8", "bigint").
		WithAlias("tinyint", "smallint").
		WithAlias("mediumint", "integer").
		WithAlias("bool", "boolean").
		WithAlias("float4", "real").
		WithAlias("float", "float8").
		WithAlias("double", "float8").
		WithAlias("double precision", "float8").
		WithAlias("decimal", "numeric").
		WithAlias("bpchar", "char").
		WithAlias("blob", "bytea").
		WithAlias("datetime", "timestamp").
		WithScalar(schema.SQLTypeText, schema.ScalarString).
		WithScalar(schema.SQLTypeBlob, schema.ScalarString)
	return types
}

var longTypeNames = []struct {
	pattern *regexp.Regexp
	short   string
}{
	{regexp.MustCompile(`(?i)^character\s+varying`), "varchar"},
	{regexp.MustCompile(`(?i)^character\b`), "char"},
	{regexp.MustCompile(`(?i)^bit\s+varying`), "varbit"},
	{regexp.MustCompile(`(?i)^timestamp(\s*\([0-9]+\))?\s+with\s+time\s+zone$`), "timestamptz$1"},
	{regexp.MustCompile(`(?i)^timestamp(\s*\([0-9]+\))?\s+without\s+time\s+zone$`), "timestamp$1"},
	{regexp.MustCompile(`(?i)^time(\s*\([0-9]+\))?\s+with\s+time\s+zone$`), "timetz$1"},
	{regexp.MustCompile(`(?i)^time(\s*\([0-9]+\))?\s+without\s+time\s+zone$`), "time$1"},
}

// NormalizeType rewrites the SQL standard spellings information_schema
// reports, such as "character varying(64)" or "timestamp with time zone",
// to the short names used in DDL.
func NormalizeType(native string) string {
	native = strings.Join(strings.Fields(native), " ")
	for _, n := range longTypeNames {
		if n.pattern.MatchString(native) {
			native = n.pattern.ReplaceAllString(native, n.short)
			break
		}
	}
	return strings.ReplaceAll(native, " (", "(")
}

// ddlTypes maps type names without a PostgreSQL equivalent to the one used
// in DDL.
var ddlTypes = map[string]string{
	"tinyint":   "smallint",
	"mediumint": "integer",
	"int":       "integer",
	"double":    "double precision",
	"float":     "double precision",
	"datetime":  "timestamp",
	"blob":      "bytea",
	"bool":      "boolean",
}

// ddlType renders the type of c, replacing the increment column type by the
// matching serial type when serial is set.
func ddlType(c *schema.Column, serial bool) string {
	native := NormalizeType(c.SQLType())
	name, rest := native, ""
	if i := strings.IndexByte(native, '('); i > 0 {
		name, rest = native[:i], native[i:]
	}
	lower := strings.ToLower(name)
	if mapped, ok := ddlTypes[lower]; ok {
		name, lower = mapped, mapped
	}
	if serial && c.IsIncrement() {
		switch lower {
		case "bigint", "int8":
			return "bigserial"
		case "smallint", "int2":
			return "smallserial"
		}
		return "serial"
	}
	return name + rest
}

// sqlTypeDefault normalizes defaults as PostgreSQL reports them, e.g.
// 'x'::character varying or now().
func sqlTypeDefault(types *schema.Types, token string, raw interface{}) interface{} {
	if s, ok := raw.(string); ok {
		s = strings.TrimSpace(s)
		switch strings.ToLower(s) {
		case "current_timestamp", "now()", "current_timestamp()", "transaction_timestamp()", "localtimestamp":
			return "CURRENT_TIMESTAMP"
		case "current_date":
			return "CURRENT_DATE"
		}
		if dialects.IsExpression(s) {
			return s
		}
		if token == "boolean" {
			switch strings.ToLower(s) {
			case "t", "true", "1":
				return int64(1)
			case "f", "false", "0":
				return int64(0)
			}
		}
		raw = s
	}
	return dialects.CoerceDefault(types.NativeTypeToDataType(token), raw)
}

var patternCast = regexp.MustCompile(`(?i)::(?:character varying|double precision|timestamp(?:\([0-9]+\))? with(?:out)? time zone|"?[a-z_][a-z0-9_]*"?)(?:\([^)]*\))?(?:\[\])?$`)

// ParseDefault reads a column default expression. A nextval() default marks
// a serial column; other function calls are kept as expressions.
func ParseDefault(expr string) (value interface{}, increment bool) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, false
	}
	if strings.HasPrefix(strings.ToLower(expr), "nextval(") {
		return nil, true
	}
	for {
		stripped := patternCast.ReplaceAllString(expr, "")
		if stripped == expr {
			break
		}
		expr = strings.TrimSpace(stripped)
	}
	if strings.HasPrefix(expr, "(") && strings.HasSuffix(expr, ")") && !strings.Contains(expr[1:], "(") {
		expr = strings.TrimSpace(expr[1 : len(expr)-1])
	}
	lower := strings.ToLower(expr)
	switch {
	case lower == "null":
		return nil, false
	case strings.HasPrefix(expr, "'") && strings.HasSuffix(expr, "'") && len(expr) >= 2:
		return strings.ReplaceAll(expr[1:len(expr)-1], "''", "'"), false
	case lower == "now()" || lower == "current_timestamp" || lower == "transaction_timestamp()":
		return "CURRENT_TIMESTAMP", false
	case lower == "true" || lower == "false":
		return lower, false
	case strings.Contains(expr, "("):
		return "(" + expr + ")", false
	}
	return expr, false
}
