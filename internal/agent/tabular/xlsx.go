package tabular

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/feichai0017/inventory-etl/internal/models"
	"github.com/feichai0017/inventory-etl/pkg/logger"
)

// XLSXParser parses every sheet of an OOXML workbook.
type XLSXParser struct {
	logger logger.Logger
}

// NewXLSXParser 创建 Excel 解析器
func NewXLSXParser(log logger.Logger) *XLSXParser {
	return &XLSXParser{logger: log}
}

func (p *XLSXParser) CanParse(ext string) bool {
	return ext == ".xlsx" || ext == ".xlsm"
}

// Parse reads each sheet independently. A sheet that cannot be read is
// logged and skipped; the file fails only when it cannot be opened at all.
func (p *XLSXParser) Parse(ctx context.Context, data []byte, filename string) (*models.Workbook, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", filename, err)
	}
	defer f.Close()

	wb := &models.Workbook{}
	for _, name := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batch, err := p.readSheet(f, filename, name)
		if err != nil {
			p.logger.Error("Failed to read sheet",
				logger.String("filename", filename),
				logger.String("sheet", name),
				logger.Error(err),
			)
			continue
		}
		if batch.Len() == 0 {
			p.logger.Debug("Skipping empty sheet",
				logger.String("filename", filename),
				logger.String("sheet", name),
			)
			continue
		}

		p.logger.Info("Sheet parsed",
			logger.String("filename", filename),
			logger.String("sheet", name),
			logger.Int("rows", batch.Len()),
		)
		wb.Sheets = append(wb.Sheets, batch)
	}

	return wb, nil
}

func (p *XLSXParser) readSheet(f *excelize.File, filename, name string) (batch *models.RowBatch, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sheet %q: %v", name, r)
		}
	}()

	rows, err := f.Rows(name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return models.NewRowBatch(name, nil, nil), rows.Error()
	}
	headers, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	headers = normalizeHeaders(p.logger, filename, name, trimTrailingBlank(headers))

	var records [][]string
	for rows.Next() {
		cols, err := rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", len(records)+2, err)
		}
		if blankRecord(cols) {
			continue
		}
		records = append(records, cols)
	}
	if err := rows.Error(); err != nil {
		return nil, err
	}

	return models.NewRowBatch(name, headers, records), nil
}

func trimTrailingBlank(headers []string) []string {
	n := len(headers)
	for n > 0 && headers[n-1] == "" {
		n--
	}
	return headers[:n]
}
