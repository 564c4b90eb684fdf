package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/feichai0017/inventory-etl/internal/models"
	"github.com/feichai0017/inventory-etl/internal/warehouse"
	"github.com/feichai0017/inventory-etl/pkg/logger"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	url := os.Getenv("INVENTORY_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("INVENTORY_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	gw, err := NewGateway(ctx, &Config{URL: url, MaxConns: 4}, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(gw.Close)
	require.NoError(t, warehouse.Migrate(ctx, gw))
	return gw
}

func TestLoadEndToEnd(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()
	log := logger.NewNop()

	tag := fmt.Sprintf("it_%d", time.Now().UnixNano())
	sku := "IT" + tag[len(tag)-8:]
	batch := models.NewRowBatch("Sheet1",
		[]string{"Date", "Sku", "Descr", "Brand", "Facility", "Loc", "Qty", "QtyAllocated",
			"WMS Lot", "Manf_Date", "Receipt Date", "Shelflife"},
		[][]string{
			{"2025/08/28", sku, "", "Acme", "E230", "A01", "100", "10", "", "", "", ""},
			{"2025/08/28", sku, "Test item", "", "E230", "A02", "1e3", "0", "L001", "2025/01/15", "20250120-01", "365"},
		},
	)

	stager := warehouse.NewStager(gw, 0, log)
	n, err := stager.Stage(ctx, batch, tag)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	staged, err := stager.Staged(ctx, tag)
	require.NoError(t, err)
	require.Len(t, staged, 2)
	require.Equal(t, sku, staged[0].Sku)

	resolver := warehouse.NewResolver(gw, log)
	counts, err := resolver.ResolveAll(ctx, tag)
	require.NoError(t, err)
	require.Equal(t, 1, counts.Products)
	require.Equal(t, 2, counts.Locations)
	require.Equal(t, 1, counts.Lots)

	// re-running the dimension pass updates rather than duplicates
	_, err = resolver.ResolveAll(ctx, tag)
	require.NoError(t, err)

	product, err := resolver.FindProduct(ctx, sku)
	require.NoError(t, err)
	require.NotNil(t, product)
	require.Equal(t, "Test item", *product.Descr)
	require.Equal(t, "Acme", *product.Brand)

	loc, err := resolver.FindLocation(ctx, "E230", "A01", "")
	require.NoError(t, err)
	require.NotNil(t, loc)
	require.Equal(t, "E230", loc.FacilityCode)
	require.Equal(t, "A01", loc.LocCode)
	require.Nil(t, loc.SlocCode)

	missing, err := resolver.FindLocation(ctx, "E230", "A01", "NOPE")
	require.NoError(t, err)
	require.Nil(t, missing)

	lots, err := resolver.FindLots(ctx, product.ID)
	require.NoError(t, err)
	require.Len(t, lots, 1)
	require.Equal(t, "L001", lots[0].LotCode)
	require.Equal(t, "E230", *lots[0].FacilityCode)
	require.Equal(t, time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), lots[0].ManfDate.UTC())
	require.Equal(t, time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC), lots[0].ReceiptDate.UTC())
	require.Equal(t, 365, *lots[0].ShelfLifeDays)
	require.Nil(t, lots[0].StopShipLeadDays)

	day := time.Date(2025, 8, 28, 0, 0, 0, 0, time.UTC)
	inserted, err := warehouse.NewFactLoader(gw, warehouse.SnapshotAppend, "WMS", log).LoadFacts(ctx, tag, day)
	require.NoError(t, err)
	require.Equal(t, 2, inserted)

	require.NoError(t, stager.Cleanup(ctx, tag))
	staged, err = stager.Staged(ctx, tag)
	require.NoError(t, err)
	require.Empty(t, staged)

	rs, err := gw.QueryReadOnly(ctx, fmt.Sprintf(`
SELECT f.qty::float8 AS qty, f.lot_id IS NOT NULL AS has_lot
FROM fact_inventory_snapshot f JOIN dim_product p USING (product_id)
WHERE p.sku = '%s' ORDER BY f.qty`, sku), 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, []string{"qty", "has_lot"}, rs.Columns)
	require.Equal(t, [][]any{{float64(100), false}, {float64(1000), true}}, rs.Rows)
}

func TestQueryReadOnlyRejectsWrites(t *testing.T) {
	gw := newTestGateway(t)
	_, err := gw.QueryReadOnly(context.Background(), "INSERT INTO dim_product (sku) VALUES ('nope')", time.Second)
	require.Error(t, err)
}

func TestQueryReadOnlyTimeout(t *testing.T) {
	gw := newTestGateway(t)
	_, err := gw.QueryReadOnly(context.Background(), "SELECT pg_sleep(2)", 100*time.Millisecond)
	require.ErrorIs(t, err, ErrStatementTimeout)
}

func TestDeleteRequiresFilter(t *testing.T) {
	gw := newTestGateway(t)
	_, err := gw.Delete(context.Background(), warehouse.TableStaging, nil)
	require.Error(t, err)
}
