package converters

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/feichai0017/inventory-etl/internal/models"
)

// ErrNotRecordArray is returned when the input is not a JSON array of objects.
var ErrNotRecordArray = errors.New("expected a JSON array of objects")

// DecodeRecords reads a JSON array of flat objects into a row batch. Headers
// keep the order keys are first seen in; every value becomes its text form
// and null becomes "".
func DecodeRecords(r io.Reader, name string) (*models.RowBatch, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	if err := expectDelim(dec, '['); err != nil {
		return nil, err
	}

	batch := &models.RowBatch{Name: name, Headers: []string{}, Rows: []models.Row{}}
	seen := make(map[string]bool)
	for dec.More() {
		row, keys, err := decodeObject(dec)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", len(batch.Rows)+1, err)
		}
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				batch.Headers = append(batch.Headers, k)
			}
		}
		batch.Rows = append(batch.Rows, row)
	}
	if err := expectDelim(dec, ']'); err != nil {
		return nil, err
	}

	// rows that lack a later-seen header get it as blank
	for _, row := range batch.Rows {
		for _, h := range batch.Headers {
			if _, ok := row[h]; !ok {
				row[h] = ""
			}
		}
	}
	return batch, nil
}

// DecodeRecordBytes is DecodeRecords over a byte slice.
func DecodeRecordBytes(data []byte, name string) (*models.RowBatch, error) {
	return DecodeRecords(bytes.NewReader(data), name)
}

func decodeObject(dec *json.Decoder) (models.Row, []string, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return nil, nil, err
	}
	row := make(models.Row)
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, nil, ErrNotRecordArray
		}
		var raw interface{}
		if err := dec.Decode(&raw); err != nil {
			return nil, nil, err
		}
		text, err := cellText(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("field %q: %w", key, err)
		}
		if _, dup := row[key]; !dup {
			keys = append(keys, key)
		}
		row[key] = text
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, nil, err
	}
	return row, keys, nil
}

func cellText(v interface{}) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		return "", fmt.Errorf("nested values are not supported")
	}
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotRecordArray, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return ErrNotRecordArray
	}
	return nil
}

// ResultRows turns positional query rows into JSON-ready maps.
func ResultRows(columns []string, rows [][]any) []map[string]any {
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		m := make(map[string]any, len(columns))
		for i, c := range columns {
			if i < len(row) {
				m[c] = NormalizeValue(row[i])
			} else {
				m[c] = nil
			}
		}
		out = append(out, m)
	}
	return out
}

// NormalizeValue converts database values into types encoding/json renders
// sensibly: dates as strings, numerics as floats, bytes and UUIDs as text.
func NormalizeValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case time.Time:
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
			return t.Format(time.DateOnly)
		}
		return t.Format(time.RFC3339)
	case []byte:
		return string(t)
	case [16]byte:
		return uuid.UUID(t).String()
	case pgtype.Numeric:
		if !t.Valid || t.NaN {
			return nil
		}
		f, err := t.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return finite(f.Float64)
	case float64:
		return finite(t)
	case float32:
		return finite(float64(t))
	case driver.Valuer:
		dv, err := t.Value()
		if err != nil {
			return fmt.Sprint(t)
		}
		return NormalizeValue(dv)
	default:
		return v
	}
}

func finite(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}
