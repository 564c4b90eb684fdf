package tabular

import (
	"context"
	"errors"

	"github.com/feichai0017/inventory-etl/internal/models"
	"github.com/feichai0017/inventory-etl/pkg/logger"
)

// ErrNoData is returned when a file yields no sheet with data rows.
var ErrNoData = errors.New("file contains no data rows")

// Parser 表格解析器接口
type Parser interface {
	// CanParse 检查是否可以处理指定扩展名
	CanParse(ext string) bool

	// Parse 解析文件为有序的工作表集合，空工作表会被丢弃
	Parse(ctx context.Context, data []byte, filename string) (*models.Workbook, error)
}

// Summarize describes each sheet of wb with up to sampleSize rows.
func Summarize(wb *models.Workbook, sampleSize int) []models.SheetSummary {
	out := make([]models.SheetSummary, 0, len(wb.Sheets))
	for _, s := range wb.Sheets {
		summary := models.SheetSummary{
			Name:        s.Name,
			RowCount:    s.Len(),
			ColumnCount: len(s.Headers),
			Columns:     append([]string(nil), s.Headers...),
			SampleRows:  make([]map[string]string, 0, sampleSize),
		}
		for i := 0; i < s.Len() && i < sampleSize; i++ {
			summary.SampleRows = append(summary.SampleRows, map[string]string(s.Rows[i]))
		}
		out = append(out, summary)
	}
	return out
}

func blankRecord(rec []string) bool {
	for _, v := range rec {
		if !models.IsBlank(v) {
			return false
		}
	}
	return true
}

// normalizeHeaders renames blank and repeated headers and logs what changed.
func normalizeHeaders(log logger.Logger, filename, sheet string, headers []string) []string {
	out, renamed := models.NormalizeHeaders(headers)
	if len(renamed) > 0 {
		log.Warn("Renamed blank or duplicate headers",
			logger.String("filename", filename),
			logger.String("sheet", sheet),
			logger.Strings("headers", renamed),
		)
	}
	return out
}
