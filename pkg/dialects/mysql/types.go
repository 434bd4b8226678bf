package mysql

import (
	"strconv"
	"strings"

	"github.com/nexus-db/schemasync/pkg/core/schema"
	"github.com/nexus-db/schemasync/pkg/dialects"
)

const zeroTimestamp = "0000-00-00 00:00:00"

// NewTypes returns the MySQL type tables.
func NewTypes() *schema.Types {
	var types *schema.Types
	types = schema.NewTypes(schema.DefaultCoercerFunc(func(token string, raw interface{}) interface{} {
		return sqlTypeDefault(types, token, raw)
	}))
	types.
		WithNatives(schema.SQLTypeInteger, "tinyint", "smallint", "mediumint", "bigint", "year").
		WithNatives(schema.SQLTypeString, "enum", "set").
		WithNatives(schema.SQLTypeText, "tinytext", "text", "mediumtext", "longtext", "json").
		WithNatives(schema.SQLTypeBlob, "binary", "varbinary", "tinyblob", "blob", "mediumblob", "longblob").
		WithNatives(schema.SQLTypeDouble, "float", "double", "real", "numeric").
		WithNatives(schema.SQLTypeDateTime, "timestamp").
		WithAlias("bool", "tinyint").
		WithAlias("boolean", "tinyint").
		WithScalar(schema.SQLTypeText, schema.ScalarString).
		WithScalar(schema.SQLTypeBlob, schema.ScalarString)
	return types
}

func sqlTypeDefault(types *schema.Types, token string, raw interface{}) interface{} {
	if raw == nil {
		return nil
	}
	if s, ok := raw.(string); ok {
		if strings.EqualFold(s, "current_timestamp") || strings.EqualFold(s, "current_timestamp()") {
			return "CURRENT_TIMESTAMP"
		}
		if token == "timestamp" && s == zeroTimestamp {
			return int64(0)
		}
		if token == "bit" && strings.HasPrefix(s, "b'") {
			if n, err := strconv.ParseInt(strings.Trim(s[1:], "'"), 2, 64); err == nil {
				return n
			}
		}
	}
	return dialects.CoerceDefault(types.NativeTypeToDataType(token), raw)
}
