package warehouse

import (
	"context"
	"fmt"
	"time"

	"github.com/feichai0017/inventory-etl/pkg/logger"
)

// SnapshotPolicy decides what happens to facts already stored for the
// target date when a new load arrives.
type SnapshotPolicy string

const (
	// SnapshotAppend adds rows and leaves earlier loads for the date in place.
	SnapshotAppend SnapshotPolicy = "append"
	// SnapshotReplace deletes the date's rows before inserting.
	SnapshotReplace SnapshotPolicy = "replace"
)

// ParseSnapshotPolicy maps a config value to a policy; empty means append.
func ParseSnapshotPolicy(s string) (SnapshotPolicy, error) {
	switch SnapshotPolicy(s) {
	case "", SnapshotAppend:
		return SnapshotAppend, nil
	case SnapshotReplace:
		return SnapshotReplace, nil
	}
	return "", fmt.Errorf("unknown snapshot policy %q", s)
}

var factMeasures = `
    ` + numericOrZero("s.qty") + `,
    ` + numericOrZero("s.bqty") + `,
    ` + numericOrZero("s.qty_allocated") + `,
    ` + numericOrZero("s.case_cnt") + `,
    ` + textOrNull("s.buom") + `,
    $3,
    ` + textOrNull("s.source_id")

const locationJoin = `
JOIN dim_product p ON p.sku = TRIM(s.sku)
JOIN dim_location l ON l.facility_code = TRIM(s.facility)
    AND l.loc_code = TRIM(s.loc)
    AND l.sloc_code IS NOT DISTINCT FROM NULLIF(TRIM(s.sloc), '')`

var insertFactsWithLotSQL = `
INSERT INTO fact_inventory_snapshot
    (snapshot_date, product_id, location_id, lot_id, qty, bqty, qty_allocated, case_cnt, buom_code, source_system, source_row_key)
SELECT
    $1::date,
    p.product_id,
    l.location_id,
    lot.lot_id,` + factMeasures + `
FROM inventory_staging s` + locationJoin + `
JOIN dim_lot lot ON lot.product_id = p.product_id
    AND lot.lot_code = TRIM(s.wms_lot)
    AND lot.facility_code IS NOT DISTINCT FROM NULLIF(TRIM(s.facility), '')
WHERE s.source_file = $2 AND TRIM(s.wms_lot) <> ''`

var insertFactsWithoutLotSQL = `
INSERT INTO fact_inventory_snapshot
    (snapshot_date, product_id, location_id, lot_id, qty, bqty, qty_allocated, case_cnt, buom_code, source_system, source_row_key)
SELECT
    $1::date,
    p.product_id,
    l.location_id,
    NULL,` + factMeasures + `
FROM inventory_staging s` + locationJoin + `
WHERE s.source_file = $2 AND TRIM(s.wms_lot) = ''`

// FactLoader inserts snapshot facts from staged rows.
type FactLoader struct {
	gw           Gateway
	policy       SnapshotPolicy
	sourceSystem string
	logger       logger.Logger
}

// NewFactLoader 创建事实表载入器
func NewFactLoader(gw Gateway, policy SnapshotPolicy, sourceSystem string, log logger.Logger) *FactLoader {
	if policy == "" {
		policy = SnapshotAppend
	}
	if sourceSystem == "" {
		sourceSystem = "WMS"
	}
	return &FactLoader{gw: gw, policy: policy, sourceSystem: sourceSystem, logger: log}
}

// LoadFacts inserts lot-bearing and lot-less facts for targetDate and
// returns the rows inserted by both statements.
func (f *FactLoader) LoadFacts(ctx context.Context, sourceTag string, targetDate time.Time) (int, error) {
	day := time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(), 0, 0, 0, 0, time.UTC)
	date := day.Format(time.DateOnly)

	if f.policy == SnapshotReplace {
		n, err := f.gw.Delete(ctx, TableSnapshot, map[string]any{"snapshot_date": day})
		if err != nil {
			return 0, fmt.Errorf("replace snapshot %s: %w", date, err)
		}
		f.logger.Info("Existing snapshot removed",
			logger.String("snapshotDate", date),
			logger.Int64("rows", n),
		)
	}

	withLot, err := f.gw.Exec(ctx, insertFactsWithLotSQL, day, sourceTag, f.sourceSystem)
	if err != nil {
		return 0, fmt.Errorf("insert lot facts: %w", err)
	}
	withoutLot, err := f.gw.Exec(ctx, insertFactsWithoutLotSQL, day, sourceTag, f.sourceSystem)
	if err != nil {
		return int(withLot), fmt.Errorf("insert lot-less facts: %w", err)
	}

	total := int(withLot + withoutLot)
	f.logger.Info("Facts loaded",
		logger.String("sourceTag", sourceTag),
		logger.String("snapshotDate", date),
		logger.Int64("withLot", withLot),
		logger.Int64("withoutLot", withoutLot),
		logger.Int("total", total),
	)
	return total, nil
}
