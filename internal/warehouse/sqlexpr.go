package warehouse

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/feichai0017/inventory-etl/internal/models"
)

// Patterns a staged text value must match before it is cast.
const (
	numericPattern = models.NumericPattern
	integerPattern = `^[0-9]+$`
	slashPattern   = `^[0-9]{4}/[0-9]{1,2}/[0-9]{1,2}$`
	receiptPattern = `^[0-9]{8}`
)

// textOrNull trims col and maps the empty string to NULL.
func textOrNull(col string) string {
	return fmt.Sprintf("NULLIF(TRIM(%s), '')", col)
}

// firstNonBlank aggregates col to its first non-blank trimmed value in
// staging row order, or NULL. The staging alias must be s.
func firstNonBlank(col string) string {
	return fmt.Sprintf("(array_agg(TRIM(%s) ORDER BY s.row_num) FILTER (WHERE TRIM(%s) <> ''))[1]", col, col)
}

// numericOrZero casts col to numeric, treating blank or unparseable as 0.
func numericOrZero(col string) string {
	clean := fmt.Sprintf("REPLACE(TRIM(%s), ',', '')", col)
	return fmt.Sprintf("COALESCE(CASE WHEN %s ~ '%s' THEN %s::numeric END, 0)", clean, numericPattern, clean)
}

// integerOrNull casts col to integer when it is all digits.
func integerOrNull(col string) string {
	return fmt.Sprintf("CASE WHEN TRIM(%s) ~ '%s' THEN TRIM(%s)::integer END", col, integerPattern, col)
}

// slashDateOrNull parses YYYY/M/D. An impossible calendar date still raises,
// which is what pushes the lot pass onto its reduced fallback.
func slashDateOrNull(col string) string {
	return fmt.Sprintf("CASE WHEN TRIM(%s) ~ '%s' THEN to_date(TRIM(%s), 'YYYY/MM/DD') END", col, slashPattern, col)
}

// receiptDateOrNull parses the leading YYYYMMDD of col.
func receiptDateOrNull(col string) string {
	return fmt.Sprintf("CASE WHEN TRIM(%s) ~ '%s' THEN to_date(SUBSTRING(TRIM(%s) FROM 1 FOR 8), 'YYYYMMDD') END", col, receiptPattern, col)
}

func quoteList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = `"` + strings.ReplaceAll(c, `"`, `""`) + `"`
	}
	return strings.Join(quoted, ", ")
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

func asStringPtr(v any) *string {
	if v == nil {
		return nil
	}
	s := asString(v)
	return &s
}

func asInt(v any) int {
	return int(asInt64(v))
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case int64:
		return t
	case float64:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	}
	return 0
}

func asIntPtr(v any) *int {
	if v == nil {
		return nil
	}
	n := asInt(v)
	return &n
}

func asTimePtr(v any) *time.Time {
	if t, ok := v.(time.Time); ok {
		return &t
	}
	return nil
}
