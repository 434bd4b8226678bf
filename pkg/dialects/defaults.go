package dialects

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nexus-db/schemasync/pkg/core/schema"
)

// CoerceDefault converts a raw column default to the Go type of a scalar
// kind: int64 for integers, float64 for doubles and string otherwise.
// Values that do not convert are returned unchanged, so equivalent
// spellings such as '5' and 5 compare equal after coercion.
func CoerceDefault(kind string, raw interface{}) interface{} {
	if raw == nil {
		return nil
	}
	switch kind {
	case schema.ScalarInteger:
		switch v := raw.(type) {
		case int:
			return int64(v)
		case int32:
			return int64(v)
		case int64:
			return v
		case float64:
			return int64(v)
		case bool:
			if v {
				return int64(1)
			}
			return int64(0)
		case string:
			s := strings.TrimSpace(v)
			switch strings.ToLower(s) {
			case "true":
				return int64(1)
			case "false":
				return int64(0)
			}
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return n
			}
		}
	case schema.ScalarDouble:
		switch v := raw.(type) {
		case int:
			return float64(v)
		case int64:
			return float64(v)
		case float32:
			return float64(v)
		case float64:
			return v
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f
			}
		}
	case schema.ScalarString:
		switch v := raw.(type) {
		case string:
			return v
		case []byte:
			return string(v)
		case int, int32, int64, float32, float64, bool:
			return fmt.Sprint(v)
		}
	}
	return raw
}
