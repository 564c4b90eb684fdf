package warehouse

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/inventory-etl/internal/models"
	"github.com/feichai0017/inventory-etl/pkg/logger"
)

var upsertProductsSQL = `
INSERT INTO dim_product (sku, descr, brand_name, skugroup_name, ean, itf14)
SELECT
    TRIM(s.sku),
    ` + firstNonBlank("s.descr") + `,
    ` + firstNonBlank("s.brand") + `,
    ` + firstNonBlank("s.skugroup") + `,
    ` + firstNonBlank("s.ean") + `,
    ` + firstNonBlank("s.itf14") + `
FROM inventory_staging s
WHERE s.source_file = $1 AND TRIM(s.sku) <> ''
GROUP BY TRIM(s.sku)
ON CONFLICT (sku) DO UPDATE SET
    descr         = COALESCE(EXCLUDED.descr, dim_product.descr),
    brand_name    = COALESCE(EXCLUDED.brand_name, dim_product.brand_name),
    skugroup_name = COALESCE(EXCLUDED.skugroup_name, dim_product.skugroup_name),
    ean           = COALESCE(EXCLUDED.ean, dim_product.ean),
    itf14         = COALESCE(EXCLUDED.itf14, dim_product.itf14),
    updated_at    = now()`

var upsertLocationsSQL = `
INSERT INTO dim_location (facility_code, loc_code, sloc_code)
SELECT DISTINCT
    TRIM(s.facility),
    TRIM(s.loc),
    ` + textOrNull("s.sloc") + `
FROM inventory_staging s
WHERE s.source_file = $1 AND TRIM(s.facility) <> '' AND TRIM(s.loc) <> ''
ON CONFLICT (facility_code, loc_code, sloc_code) DO UPDATE SET
    updated_at = now()`

const lotAttributeUpdates = `
    manf_date           = COALESCE(EXCLUDED.manf_date, dim_lot.manf_date),
    receipt_date        = COALESCE(EXCLUDED.receipt_date, dim_lot.receipt_date),
    shelf_life_days     = COALESCE(EXCLUDED.shelf_life_days, dim_lot.shelf_life_days),
    dc_stop_ship_date   = COALESCE(EXCLUDED.dc_stop_ship_date, dim_lot.dc_stop_ship_date),
    stop_ship_lead_days = COALESCE(EXCLUDED.stop_ship_lead_days, dim_lot.stop_ship_lead_days),
    reason_code         = COALESCE(EXCLUDED.reason_code, dim_lot.reason_code),
    remark              = COALESCE(EXCLUDED.remark, dim_lot.remark),
    updated_at          = now()`

var lotAttributes = `
    ` + slashDateOrNull("s.manf_date") + `,
    ` + receiptDateOrNull("s.receipt_date") + `,
    ` + integerOrNull("s.shelflife") + `,
    ` + slashDateOrNull("s.dc_stop_ship_date") + `,
    ` + integerOrNull("s.stop_ship_lead_time") + `,
    ` + textOrNull("s.reason") + `,
    ` + textOrNull("s.remark")

var upsertLotsWithFacilitySQL = `
INSERT INTO dim_lot (
    lot_code, product_id, facility_code, manf_date, receipt_date,
    shelf_life_days, dc_stop_ship_date, stop_ship_lead_days, reason_code, remark
)
SELECT DISTINCT ON (p.product_id, TRIM(s.wms_lot), TRIM(s.facility))
    TRIM(s.wms_lot),
    p.product_id,
    TRIM(s.facility),` + lotAttributes + `
FROM inventory_staging s
JOIN dim_product p ON p.sku = TRIM(s.sku)
WHERE s.source_file = $1 AND TRIM(s.wms_lot) <> '' AND TRIM(s.facility) <> ''
ORDER BY p.product_id, TRIM(s.wms_lot), TRIM(s.facility), s.row_num
ON CONFLICT (product_id, lot_code, facility_code) WHERE facility_code IS NOT NULL DO UPDATE SET` + lotAttributeUpdates

var upsertLotsWithoutFacilitySQL = `
INSERT INTO dim_lot (
    lot_code, product_id, manf_date, receipt_date,
    shelf_life_days, dc_stop_ship_date, stop_ship_lead_days, reason_code, remark
)
SELECT DISTINCT ON (p.product_id, TRIM(s.wms_lot))
    TRIM(s.wms_lot),
    p.product_id,` + lotAttributes + `
FROM inventory_staging s
JOIN dim_product p ON p.sku = TRIM(s.sku)
WHERE s.source_file = $1 AND TRIM(s.wms_lot) <> '' AND TRIM(s.facility) = ''
ORDER BY p.product_id, TRIM(s.wms_lot), s.row_num
ON CONFLICT (product_id, lot_code) WHERE facility_code IS NULL DO UPDATE SET` + lotAttributeUpdates

const fallbackLotsWithFacilitySQL = `
INSERT INTO dim_lot (lot_code, product_id, facility_code)
SELECT DISTINCT TRIM(s.wms_lot), p.product_id, TRIM(s.facility)
FROM inventory_staging s
JOIN dim_product p ON p.sku = TRIM(s.sku)
WHERE s.source_file = $1 AND TRIM(s.wms_lot) <> '' AND TRIM(s.facility) <> ''
ON CONFLICT (product_id, lot_code, facility_code) WHERE facility_code IS NOT NULL DO NOTHING`

const fallbackLotsWithoutFacilitySQL = `
INSERT INTO dim_lot (lot_code, product_id)
SELECT DISTINCT TRIM(s.wms_lot), p.product_id
FROM inventory_staging s
JOIN dim_product p ON p.sku = TRIM(s.sku)
WHERE s.source_file = $1 AND TRIM(s.wms_lot) <> '' AND TRIM(s.facility) = ''
ON CONFLICT (product_id, lot_code) WHERE facility_code IS NULL DO NOTHING`

// Resolver upserts dimension rows derived from one staging tag.
type Resolver struct {
	gw     Gateway
	logger logger.Logger
}

// NewResolver 创建维度解析器
func NewResolver(gw Gateway, log logger.Logger) *Resolver {
	return &Resolver{gw: gw, logger: log}
}

// ResolveAll runs products and locations concurrently, then lots, which
// reference products.
func (r *Resolver) ResolveAll(ctx context.Context, sourceTag string) (models.DimensionCounts, error) {
	var counts models.DimensionCounts

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := r.UpsertProducts(gctx, sourceTag)
		counts.Products = n
		return err
	})
	g.Go(func() error {
		n, err := r.UpsertLocations(gctx, sourceTag)
		counts.Locations = n
		return err
	})
	if err := g.Wait(); err != nil {
		return counts, err
	}

	n, err := r.UpsertLots(ctx, sourceTag)
	counts.Lots = n
	return counts, err
}

// UpsertProducts upserts by SKU; blank incoming attributes keep the stored value.
func (r *Resolver) UpsertProducts(ctx context.Context, sourceTag string) (int, error) {
	n, err := r.gw.Exec(ctx, upsertProductsSQL, sourceTag)
	if err != nil {
		r.logger.Error("Product upsert failed", logger.String("sourceTag", sourceTag), logger.Error(err))
		return 0, fmt.Errorf("upsert products: %w", err)
	}
	r.logger.Info("Products upserted", logger.String("sourceTag", sourceTag), logger.Int64("rows", n))
	return int(n), nil
}

// UpsertLocations upserts by (facility, loc, sloc). Rows without a facility
// or loc are not locations.
func (r *Resolver) UpsertLocations(ctx context.Context, sourceTag string) (int, error) {
	n, err := r.gw.Exec(ctx, upsertLocationsSQL, sourceTag)
	if err != nil {
		r.logger.Error("Location upsert failed", logger.String("sourceTag", sourceTag), logger.Error(err))
		return 0, fmt.Errorf("upsert locations: %w", err)
	}
	r.logger.Info("Locations upserted", logger.String("sourceTag", sourceTag), logger.Int64("rows", n))
	return int(n), nil
}

// UpsertLots resolves lots with and without a facility. When the full
// attribute upsert fails it retries with lot code, product and facility only.
func (r *Resolver) UpsertLots(ctx context.Context, sourceTag string) (int, error) {
	n, err := r.execAll(ctx, sourceTag, upsertLotsWithFacilitySQL, upsertLotsWithoutFacilitySQL)
	if err == nil {
		r.logger.Info("Lots upserted", logger.String("sourceTag", sourceTag), logger.Int64("rows", n))
		return int(n), nil
	}

	r.logger.Warn("Lot upsert failed, retrying with reduced attributes",
		logger.String("sourceTag", sourceTag),
		logger.Error(err),
	)
	n, fallbackErr := r.execAll(ctx, sourceTag, fallbackLotsWithFacilitySQL, fallbackLotsWithoutFacilitySQL)
	if fallbackErr != nil {
		r.logger.Error("Reduced lot upsert failed", logger.String("sourceTag", sourceTag), logger.Error(fallbackErr))
		return 0, fmt.Errorf("upsert lots: %w", errors.Join(err, fallbackErr))
	}
	r.logger.Info("Lots inserted with reduced attributes", logger.String("sourceTag", sourceTag), logger.Int64("rows", n))
	return int(n), nil
}

func (r *Resolver) execAll(ctx context.Context, sourceTag string, statements ...string) (int64, error) {
	var total int64
	for _, stmt := range statements {
		n, err := r.gw.Exec(ctx, stmt, sourceTag)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// FindProduct returns the product stored for sku, or nil.
func (r *Resolver) FindProduct(ctx context.Context, sku string) (*models.Product, error) {
	rs, err := r.gw.Query(ctx, `
SELECT product_id, sku, descr, brand_name, skugroup_name, ean, itf14, is_active
FROM dim_product WHERE sku = $1`, sku)
	if err != nil {
		return nil, fmt.Errorf("find product %s: %w", sku, err)
	}
	rows := rs.Maps()
	if len(rows) == 0 {
		return nil, nil
	}
	row := rows[0]
	active, _ := row["is_active"].(bool)
	return &models.Product{
		ID:       asInt64(row["product_id"]),
		Sku:      asString(row["sku"]),
		Descr:    asStringPtr(row["descr"]),
		Brand:    asStringPtr(row["brand_name"]),
		SkuGroup: asStringPtr(row["skugroup_name"]),
		EAN:      asStringPtr(row["ean"]),
		ITF14:    asStringPtr(row["itf14"]),
		Active:   active,
	}, nil
}

// FindLocation returns the location for the composite key, or nil. An empty
// sloc selects the location without a sub-location.
func (r *Resolver) FindLocation(ctx context.Context, facility, loc, sloc string) (*models.Location, error) {
	rs, err := r.gw.Query(ctx, `
SELECT location_id, facility_code, loc_code, sloc_code
FROM dim_location
WHERE facility_code = $1 AND loc_code = $2 AND sloc_code IS NOT DISTINCT FROM NULLIF($3, '')`,
		facility, loc, sloc)
	if err != nil {
		return nil, fmt.Errorf("find location %s/%s: %w", facility, loc, err)
	}
	rows := rs.Maps()
	if len(rows) == 0 {
		return nil, nil
	}
	row := rows[0]
	return &models.Location{
		ID:           asInt64(row["location_id"]),
		FacilityCode: asString(row["facility_code"]),
		LocCode:      asString(row["loc_code"]),
		SlocCode:     asStringPtr(row["sloc_code"]),
	}, nil
}

// FindLots returns the lots recorded for a product.
func (r *Resolver) FindLots(ctx context.Context, productID int64) ([]models.Lot, error) {
	rs, err := r.gw.Query(ctx, `
SELECT lot_id, product_id, lot_code, facility_code, manf_date, receipt_date,
       shelf_life_days, dc_stop_ship_date, stop_ship_lead_days, reason_code, remark
FROM dim_lot WHERE product_id = $1 ORDER BY lot_id`, productID)
	if err != nil {
		return nil, fmt.Errorf("find lots for product %d: %w", productID, err)
	}
	lots := make([]models.Lot, 0, len(rs.Rows))
	for _, row := range rs.Maps() {
		lots = append(lots, models.Lot{
			ID:               asInt64(row["lot_id"]),
			ProductID:        asInt64(row["product_id"]),
			LotCode:          asString(row["lot_code"]),
			FacilityCode:     asStringPtr(row["facility_code"]),
			ManfDate:         asTimePtr(row["manf_date"]),
			ReceiptDate:      asTimePtr(row["receipt_date"]),
			ShelfLifeDays:    asIntPtr(row["shelf_life_days"]),
			StopShipDate:     asTimePtr(row["dc_stop_ship_date"]),
			StopShipLeadDays: asIntPtr(row["stop_ship_lead_days"]),
			ReasonCode:       asStringPtr(row["reason_code"]),
			Remark:           asStringPtr(row["remark"]),
		})
	}
	return lots, nil
}
