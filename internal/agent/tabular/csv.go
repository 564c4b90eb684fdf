package tabular

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/feichai0017/inventory-etl/internal/models"
	"github.com/feichai0017/inventory-etl/pkg/logger"
)

// CSVParser parses a flat file into a single sheet named after the file.
type CSVParser struct {
	logger logger.Logger
}

// NewCSVParser 创建 CSV 解析器
func NewCSVParser(log logger.Logger) *CSVParser {
	return &CSVParser{logger: log}
}

func (p *CSVParser) CanParse(ext string) bool {
	return ext == ".csv"
}

func (p *CSVParser) Parse(ctx context.Context, data []byte, filename string) (*models.Workbook, error) {
	decoded, encoding, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filename, err)
	}

	reader := csv.NewReader(bytes.NewReader(decoded))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	headers, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return &models.Workbook{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header of %s: %w", filename, err)
	}

	var records [][]string
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s line %d: %w", filename, len(records)+2, err)
		}
		if blankRecord(rec) {
			continue
		}
		records = append(records, rec)
	}

	headers = normalizeHeaders(p.logger, filename, filename, headers)
	wb := &models.Workbook{}
	if len(records) > 0 {
		wb.Sheets = append(wb.Sheets, models.NewRowBatch(filename, headers, records))
	}

	p.logger.Info("CSV parsed",
		logger.String("filename", filename),
		logger.String("encoding", encoding),
		logger.Int("rows", len(records)),
	)
	return wb, nil
}

// decode strips a UTF-8/UTF-16 BOM and falls back to Latin-1 for input that
// is not valid UTF-8.
func decode(data []byte) ([]byte, string, error) {
	if bytes.HasPrefix(data, []byte{0xFF, 0xFE}) || bytes.HasPrefix(data, []byte{0xFE, 0xFF}) {
		out, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data)
		return out, "utf-16", err
	}
	if utf8.Valid(data) {
		out, _, err := transform.Bytes(unicode.UTF8BOM.NewDecoder(), data)
		return out, "utf-8", err
	}
	out, _, err := transform.Bytes(charmap.ISO8859_1.NewDecoder(), data)
	return out, "latin-1", err
}
