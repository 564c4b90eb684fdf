package warehouse

import (
	"context"
	"fmt"

	"github.com/feichai0017/inventory-etl/internal/models"
	"github.com/feichai0017/inventory-etl/pkg/logger"
)

// DefaultStagingBatchSize bounds the rows sent in one insert call.
const DefaultStagingBatchSize = 1000

// Stager writes row batches into the staging table.
type Stager struct {
	gw     Gateway
	table  Table[models.StagingRecord]
	logger logger.Logger
}

// NewStager 创建 staging 载入器
func NewStager(gw Gateway, batchSize int, log logger.Logger) *Stager {
	if batchSize <= 0 {
		batchSize = DefaultStagingBatchSize
	}
	return &Stager{
		gw: gw,
		table: Table[models.StagingRecord]{
			Name:      TableStaging,
			Columns:   models.StagingTableColumns(),
			BatchSize: batchSize,
			Values:    models.StagingRecord.Values,
		},
		logger: log,
	}
}

// Stage maps every row and inserts the survivors tagged with sourceTag.
// Rows that fail to map are logged and skipped. Zero surviving rows
// returns (0, nil).
func (s *Stager) Stage(ctx context.Context, batch *models.RowBatch, sourceTag string) (int, error) {
	s.logger.Info("Staging rows",
		logger.String("sourceTag", sourceTag),
		logger.Int("rows", batch.Len()),
	)
	if batch.Len() == 0 {
		s.logger.Warn("No rows to stage", logger.String("sourceTag", sourceTag))
		return 0, nil
	}

	records := make([]models.StagingRecord, 0, batch.Len())
	for i, row := range batch.Rows {
		rec, err := models.MapStagingRecord(row, sourceTag, i+1)
		if err != nil {
			s.logger.Error("Failed to map row",
				logger.String("sourceTag", sourceTag),
				logger.Int("row", i+1),
				logger.Error(err),
			)
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		s.logger.Error("Every row failed to map", logger.String("sourceTag", sourceTag))
		return 0, nil
	}

	total, err := s.table.InsertAll(ctx, s.gw, records, func(n int, inserted int64) {
		s.logger.Debug("Staging batch inserted",
			logger.String("sourceTag", sourceTag),
			logger.Int("batch", n),
			logger.Int64("rows", inserted),
		)
	})
	if err != nil {
		return total, fmt.Errorf("stage %s: %w", sourceTag, err)
	}

	s.logger.Info("Staging complete",
		logger.String("sourceTag", sourceTag),
		logger.Int("inserted", total),
		logger.Int("skipped", batch.Len()-len(records)),
	)
	return total, nil
}

// Cleanup deletes the staging rows tagged with sourceTag.
func (s *Stager) Cleanup(ctx context.Context, sourceTag string) error {
	n, err := s.gw.Delete(ctx, TableStaging, map[string]any{"source_file": sourceTag})
	if err != nil {
		return fmt.Errorf("cleanup staging %s: %w", sourceTag, err)
	}
	s.logger.Info("Staging rows removed",
		logger.String("sourceTag", sourceTag),
		logger.Int64("rows", n),
	)
	return nil
}

// Staged reads back the rows tagged with sourceTag in row order.
func (s *Stager) Staged(ctx context.Context, sourceTag string) ([]models.StagingRecord, error) {
	cols := models.StagingTableColumns()
	rs, err := s.gw.Query(ctx, fmt.Sprintf(
		"SELECT %s FROM %s WHERE source_file = $1 ORDER BY row_num",
		quoteList(cols), TableStaging), sourceTag)
	if err != nil {
		return nil, fmt.Errorf("read staging %s: %w", sourceTag, err)
	}

	out := make([]models.StagingRecord, 0, len(rs.Rows))
	for _, row := range rs.Maps() {
		rec := models.StagingRecord{
			SourceFile: asString(row["source_file"]),
			RowNum:     asInt(row["row_num"]),
			Status:     asString(row["status"]),
		}
		for _, c := range models.StagingColumns {
			*c.Field(&rec) = asString(row[c.Column])
		}
		out = append(out, rec)
	}
	return out, nil
}
