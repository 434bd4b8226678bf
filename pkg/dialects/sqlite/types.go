package sqlite

import (
	"strings"

	"github.com/nexus-db/schemasync/pkg/core/schema"
	"github.com/nexus-db/schemasync/pkg/dialects"
)

// NewTypes returns the SQLite type tables. SQLite accepts any type name;
// these are the spellings it maps to an affinity.
func NewTypes() *schema.Types {
	var types *schema.Types
	types = schema.NewTypes(schema.DefaultCoercerFunc(func(token string, raw interface{}) interface{} {
		return sqlTypeDefault(types, token, raw)
	}))
	types.
		WithNatives(schema.SQLTypeInteger, "tinyint", "smallint", "mediumint", "bigint", "int2", "int8").
		WithNatives(schema.SQLTypeText, "text", "clob").
		WithNatives(schema.SQLTypeBlob, "blob").
		WithNatives(schema.SQLTypeDouble, "real", "float", "double", "numeric").
		WithNatives(schema.SQLTypeDateTime, "timestamp").
		WithAlias("bool", "tinyint").
		WithAlias("boolean", "tinyint").
		WithScalar(schema.SQLTypeText, schema.ScalarString).
		WithScalar(schema.SQLTypeBlob, schema.ScalarString)
	return types
}

func sqlTypeDefault(types *schema.Types, token string, raw interface{}) interface{} {
	if s, ok := raw.(string); ok {
		switch strings.ToUpper(s) {
		case "CURRENT_TIMESTAMP", "CURRENT_DATE", "CURRENT_TIME":
			return strings.ToUpper(s)
		}
		if strings.HasPrefix(s, "(") {
			return s
		}
	}
	return dialects.CoerceDefault(types.NativeTypeToDataType(token), raw)
}
