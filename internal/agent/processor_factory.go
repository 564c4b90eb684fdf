package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/feichai0017/inventory-etl/internal/agent/tabular"
	"github.com/feichai0017/inventory-etl/internal/models"
	"github.com/feichai0017/inventory-etl/pkg/logger"
)

// ProcessorFactory picks a tabular parser by file extension.
type ProcessorFactory struct {
	parsers []tabular.Parser
	logger  logger.Logger
}

// NewProcessorFactory 注册 Excel 与 CSV 解析器
func NewProcessorFactory(log logger.Logger) *ProcessorFactory {
	return &ProcessorFactory{
		parsers: []tabular.Parser{
			tabular.NewXLSXParser(log.Named("xlsx")),
			tabular.NewCSVParser(log.Named("csv")),
		},
		logger: log,
	}
}

// GetParser 根据文件名取得解析器
func (f *ProcessorFactory) GetParser(filename string) (tabular.Parser, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, p := range f.parsers {
		if p.CanParse(ext) {
			return p, nil
		}
	}
	f.logger.Error("Unsupported file type",
		logger.String("filename", filename),
		logger.String("ext", ext),
	)
	return nil, fmt.Errorf("unsupported file type: %s", ext)
}

// Parse is the tabular ingest entry point: pick a parser and run it.
func (f *ProcessorFactory) Parse(ctx context.Context, data []byte, filename string) (*models.Workbook, error) {
	p, err := f.GetParser(filename)
	if err != nil {
		return nil, err
	}
	wb, err := p.Parse(ctx, data, filename)
	if err != nil {
		return nil, err
	}
	if len(wb.Sheets) == 0 {
		return nil, fmt.Errorf("%s: %w", filename, tabular.ErrNoData)
	}
	return wb, nil
}

// Inspect parses data and summarizes every sheet.
func (f *ProcessorFactory) Inspect(ctx context.Context, data []byte, filename string) ([]models.SheetSummary, error) {
	wb, err := f.Parse(ctx, data, filename)
	if err != nil {
		return nil, err
	}
	return tabular.Summarize(wb, 3), nil
}
