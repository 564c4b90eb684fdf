package warehouse

import (
	"context"
	"fmt"
)

const (
	TableStaging  = "inventory_staging"
	TableProduct  = "dim_product"
	TableLocation = "dim_location"
	TableLot      = "dim_lot"
	TableSnapshot = "fact_inventory_snapshot"
)

// Schema is the warehouse DDL. Every statement is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS inventory_staging (
    id                  BIGSERIAL PRIMARY KEY,
    source_file         TEXT        NOT NULL,
    row_num             INTEGER     NOT NULL,
    status              TEXT        NOT NULL DEFAULT 'pending',
    date                TEXT        NOT NULL DEFAULT '',
    sku                 TEXT        NOT NULL DEFAULT '',
    descr               TEXT        NOT NULL DEFAULT '',
    brand               TEXT        NOT NULL DEFAULT '',
    skugroup            TEXT        NOT NULL DEFAULT '',
    facility            TEXT        NOT NULL DEFAULT '',
    loc                 TEXT        NOT NULL DEFAULT '',
    sloc                TEXT        NOT NULL DEFAULT '',
    qty                 TEXT        NOT NULL DEFAULT '',
    bqty                TEXT        NOT NULL DEFAULT '',
    qty_allocated       TEXT        NOT NULL DEFAULT '',
    case_cnt            TEXT        NOT NULL DEFAULT '',
    buom                TEXT        NOT NULL DEFAULT '',
    wms_lot             TEXT        NOT NULL DEFAULT '',
    manf_date           TEXT        NOT NULL DEFAULT '',
    receipt_date        TEXT        NOT NULL DEFAULT '',
    dc_stop_ship_date   TEXT        NOT NULL DEFAULT '',
    shelflife           TEXT        NOT NULL DEFAULT '',
    stop_ship_lead_time TEXT        NOT NULL DEFAULT '',
    ean                 TEXT        NOT NULL DEFAULT '',
    itf14               TEXT        NOT NULL DEFAULT '',
    reason              TEXT        NOT NULL DEFAULT '',
    remark              TEXT        NOT NULL DEFAULT '',
    source_id           TEXT        NOT NULL DEFAULT '',
    loaded_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_inventory_staging_source ON inventory_staging (source_file);

CREATE TABLE IF NOT EXISTS dim_product (
    product_id    BIGSERIAL PRIMARY KEY,
    sku           TEXT        NOT NULL UNIQUE,
    descr         TEXT,
    brand_name    TEXT,
    skugroup_name TEXT,
    ean           TEXT,
    itf14         TEXT,
    is_active     BOOLEAN     NOT NULL DEFAULT TRUE,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS dim_location (
    location_id   BIGSERIAL PRIMARY KEY,
    facility_code TEXT        NOT NULL,
    loc_code      TEXT        NOT NULL,
    sloc_code     TEXT,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    CONSTRAINT uq_dim_location UNIQUE NULLS NOT DISTINCT (facility_code, loc_code, sloc_code)
);

CREATE TABLE IF NOT EXISTS dim_lot (
    lot_id              BIGSERIAL PRIMARY KEY,
    product_id          BIGINT      NOT NULL REFERENCES dim_product (product_id),
    lot_code            TEXT        NOT NULL,
    facility_code       TEXT,
    manf_date           DATE,
    receipt_date        DATE,
    shelf_life_days     INTEGER,
    dc_stop_ship_date   DATE,
    stop_ship_lead_days INTEGER,
    reason_code         TEXT,
    remark              TEXT,
    created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_dim_lot_facility
    ON dim_lot (product_id, lot_code, facility_code) WHERE facility_code IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS uq_dim_lot_no_facility
    ON dim_lot (product_id, lot_code) WHERE facility_code IS NULL;

CREATE TABLE IF NOT EXISTS fact_inventory_snapshot (
    snapshot_id    BIGSERIAL PRIMARY KEY,
    snapshot_date  DATE        NOT NULL,
    product_id     BIGINT      NOT NULL REFERENCES dim_product (product_id),
    location_id    BIGINT      NOT NULL REFERENCES dim_location (location_id),
    lot_id         BIGINT      REFERENCES dim_lot (lot_id),
    qty            NUMERIC     NOT NULL DEFAULT 0,
    bqty           NUMERIC     NOT NULL DEFAULT 0,
    qty_allocated  NUMERIC     NOT NULL DEFAULT 0,
    case_cnt       NUMERIC     NOT NULL DEFAULT 0,
    buom_code      TEXT,
    source_system  TEXT        NOT NULL,
    source_row_key TEXT,
    loaded_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_fact_inventory_snapshot_identity
    ON fact_inventory_snapshot (snapshot_date, product_id, location_id, lot_id, source_row_key);
`

// Migrate applies Schema through the gateway's script runner.
func Migrate(ctx context.Context, gw Gateway) error {
	if err := gw.ExecScript(ctx, Schema); err != nil {
		return fmt.Errorf("apply warehouse schema: %w", err)
	}
	return nil
}
