package warehouse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/feichai0017/inventory-etl/internal/models"
	"github.com/feichai0017/inventory-etl/pkg/logger"
)

type execCall struct {
	statement string
	args      []any
}

type recordingGateway struct {
	mu      sync.Mutex
	inserts [][][]any
	execs   []execCall
	deletes []map[string]any
	scripts []string

	execFn  func(statement string) (int64, error)
	queryRS *ResultSet
}

func (g *recordingGateway) Insert(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inserts = append(g.inserts, rows)
	return int64(len(rows)), nil
}

func (g *recordingGateway) Exec(ctx context.Context, statement string, args ...any) (int64, error) {
	g.mu.Lock()
	g.execs = append(g.execs, execCall{statement, args})
	g.mu.Unlock()
	if g.execFn != nil {
		return g.execFn(statement)
	}
	return 1, nil
}

func (g *recordingGateway) Query(ctx context.Context, statement string, args ...any) (*ResultSet, error) {
	if g.queryRS == nil {
		return &ResultSet{}, nil
	}
	return g.queryRS, nil
}

func (g *recordingGateway) Delete(ctx context.Context, table string, filter map[string]any) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deletes = append(g.deletes, filter)
	return 3, nil
}

func (g *recordingGateway) ExecScript(ctx context.Context, script string) error {
	g.scripts = append(g.scripts, script)
	return nil
}

func rowsBatch(n int) *models.RowBatch {
	records := make([][]string, n)
	for i := range records {
		records[i] = []string{"2025/08/28", fmt.Sprintf("SKU%04d", i), "E230", "A01", "1"}
	}
	return models.NewRowBatch("Sheet1", []string{"Date", "Sku", "Facility", "Loc", "Qty"}, records)
}

func TestStageBatchesAtConfiguredSize(t *testing.T) {
	gw := &recordingGateway{}
	s := NewStager(gw, 0, logger.NewNop())

	n, err := s.Stage(context.Background(), rowsBatch(2500), "stock_20250828_000000_abcdef12")
	require.NoError(t, err)
	require.Equal(t, 2500, n)
	require.Len(t, gw.inserts, 3)
	require.Len(t, gw.inserts[0], 1000)
	require.Len(t, gw.inserts[2], 500)

	first := gw.inserts[0][0]
	require.Equal(t, "stock_20250828_000000_abcdef12", first[0])
	require.Equal(t, 1, first[1])
	require.Equal(t, models.StagingStatusPending, first[2])
}

func TestStageSkipsUnmappableRows(t *testing.T) {
	gw := &recordingGateway{}
	s := NewStager(gw, 10, logger.NewNop())

	batch := rowsBatch(2)
	batch.Rows[0]["Sku"] = "bad\xff"
	n, err := s.Stage(context.Background(), batch, "tag")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 2, gw.inserts[0][0][1])
}

func TestStageEmptyBatch(t *testing.T) {
	gw := &recordingGateway{}
	n, err := NewStager(gw, 10, logger.NewNop()).Stage(context.Background(), &models.RowBatch{}, "tag")
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, gw.inserts)
}

func TestCleanupDeletesBySourceTag(t *testing.T) {
	gw := &recordingGateway{}
	require.NoError(t, NewStager(gw, 10, logger.NewNop()).Cleanup(context.Background(), "tag"))
	require.Equal(t, []map[string]any{{"source_file": "tag"}}, gw.deletes)
}

func TestStagedReadsBack(t *testing.T) {
	gw := &recordingGateway{queryRS: &ResultSet{
		Columns: []string{"source_file", "row_num", "status", "sku", "qty"},
		Rows:    [][]any{{"tag", int32(1), "pending", "TW001", "5"}},
	}}
	recs, err := NewStager(gw, 10, logger.NewNop()).Staged(context.Background(), "tag")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, 1, recs[0].RowNum)
	require.Equal(t, "TW001", recs[0].Sku)
	require.Equal(t, "5", recs[0].Qty)
	require.Equal(t, "", recs[0].Loc)
}

func TestResolveAllCountsEachDimension(t *testing.T) {
	gw := &recordingGateway{execFn: func(stmt string) (int64, error) {
		switch {
		case strings.Contains(stmt, "INSERT INTO dim_product"):
			return 2, nil
		case strings.Contains(stmt, "INSERT INTO dim_location"):
			return 3, nil
		default:
			return 1, nil
		}
	}}
	counts, err := NewResolver(gw, logger.NewNop()).ResolveAll(context.Background(), "tag")
	require.NoError(t, err)
	require.Equal(t, models.DimensionCounts{Products: 2, Locations: 3, Lots: 2}, counts)
	for _, c := range gw.execs {
		require.Equal(t, []any{"tag"}, c.args)
	}
}

func TestUpsertLotsFallsBackToReducedAttributes(t *testing.T) {
	gw := &recordingGateway{execFn: func(stmt string) (int64, error) {
		if strings.Contains(stmt, "manf_date") {
			return 0, errors.New("date/time field value out of range")
		}
		return 4, nil
	}}
	log := logger.NewTestLogger()
	n, err := NewResolver(gw, log).UpsertLots(context.Background(), "tag")
	require.NoError(t, err)
	require.Equal(t, 8, n)
	require.Contains(t, log.Messages("WARN"), "Lot upsert failed, retrying with reduced attributes")
	require.Contains(t, gw.execs[len(gw.execs)-1].statement, "DO NOTHING")
}

func TestUpsertLotsFailsWhenFallbackFails(t *testing.T) {
	boom := errors.New("relation dim_lot does not exist")
	gw := &recordingGateway{execFn: func(string) (int64, error) { return 0, boom }}
	_, err := NewResolver(gw, logger.NewNop()).UpsertLots(context.Background(), "tag")
	require.ErrorIs(t, err, boom)
}

func TestResolveAllStopsBeforeLotsOnProductFailure(t *testing.T) {
	gw := &recordingGateway{execFn: func(stmt string) (int64, error) {
		if strings.Contains(stmt, "INSERT INTO dim_product") {
			return 0, errors.New("unique violation")
		}
		return 1, nil
	}}
	_, err := NewResolver(gw, logger.NewNop()).ResolveAll(context.Background(), "tag")
	require.Error(t, err)
	for _, c := range gw.execs {
		require.NotContains(t, c.statement, "INSERT INTO dim_lot")
	}
}

func TestLoadFactsAppend(t *testing.T) {
	gw := &recordingGateway{execFn: func(stmt string) (int64, error) {
		if strings.Contains(stmt, "lot.lot_id") {
			return 5, nil
		}
		return 2, nil
	}}
	day := time.Date(2025, 8, 28, 15, 4, 5, 0, time.Local)

	n, err := NewFactLoader(gw, "", "", logger.NewNop()).LoadFacts(context.Background(), "tag", day)
	require.NoError(t, err)
	require.Equal(t, 7, n)
	require.Empty(t, gw.deletes)
	require.Len(t, gw.execs, 2)
	require.Equal(t, []any{time.Date(2025, 8, 28, 0, 0, 0, 0, time.UTC), "tag", "WMS"}, gw.execs[0].args)
}

func TestLoadFactsReplaceDeletesDateFirst(t *testing.T) {
	gw := &recordingGateway{}
	day := time.Date(2025, 8, 28, 0, 0, 0, 0, time.UTC)

	_, err := NewFactLoader(gw, SnapshotReplace, "WMS", logger.NewNop()).LoadFacts(context.Background(), "tag", day)
	require.NoError(t, err)
	require.Equal(t, []map[string]any{{"snapshot_date": day}}, gw.deletes)
}

func TestParseSnapshotPolicy(t *testing.T) {
	p, err := ParseSnapshotPolicy("")
	require.NoError(t, err)
	require.Equal(t, SnapshotAppend, p)
	p, err = ParseSnapshotPolicy("replace")
	require.NoError(t, err)
	require.Equal(t, SnapshotReplace, p)
	_, err = ParseSnapshotPolicy("merge")
	require.Error(t, err)
}

func TestMigrateRunsSchema(t *testing.T) {
	gw := &recordingGateway{}
	require.NoError(t, Migrate(context.Background(), gw))
	require.Len(t, gw.scripts, 1)
	for _, table := range []string{TableStaging, TableProduct, TableLocation, TableLot, TableSnapshot} {
		require.Contains(t, gw.scripts[0], "CREATE TABLE IF NOT EXISTS "+table)
	}
}
