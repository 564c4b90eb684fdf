package models

import "time"

// Product dim_product row, keyed by SKU.
type Product struct {
	ID       int64   `json:"product_id"`
	Sku      string  `json:"sku"`
	Descr    *string `json:"descr,omitempty"`
	Brand    *string `json:"brand_name,omitempty"`
	SkuGroup *string `json:"skugroup_name,omitempty"`
	EAN      *string `json:"ean,omitempty"`
	ITF14    *string `json:"itf14,omitempty"`
	Active   bool    `json:"is_active"`
}

// Location dim_location row, keyed by (facility, loc, sloc).
type Location struct {
	ID           int64   `json:"location_id"`
	FacilityCode string  `json:"facility_code"`
	LocCode      string  `json:"loc_code"`
	SlocCode     *string `json:"sloc_code,omitempty"`
}

// Lot dim_lot row, keyed by (product, lot, facility) or (product, lot).
type Lot struct {
	ID               int64      `json:"lot_id"`
	ProductID        int64      `json:"product_id"`
	LotCode          string     `json:"lot_code"`
	FacilityCode     *string    `json:"facility_code,omitempty"`
	ManfDate         *time.Time `json:"manf_date,omitempty"`
	ReceiptDate      *time.Time `json:"receipt_date,omitempty"`
	ShelfLifeDays    *int       `json:"shelf_life_days,omitempty"`
	StopShipDate     *time.Time `json:"dc_stop_ship_date,omitempty"`
	StopShipLeadDays *int       `json:"stop_ship_lead_days,omitempty"`
	ReasonCode       *string    `json:"reason_code,omitempty"`
	Remark           *string    `json:"remark,omitempty"`
}

// InventorySnapshot fact_inventory_snapshot row. Append-only.
type InventorySnapshot struct {
	SnapshotDate time.Time `json:"snapshot_date"`
	ProductID    int64     `json:"product_id"`
	LocationID   int64     `json:"location_id"`
	LotID        *int64    `json:"lot_id,omitempty"`
	Qty          float64   `json:"qty"`
	BQty         float64   `json:"bqty"`
	QtyAllocated float64   `json:"qty_allocated"`
	CaseCnt      float64   `json:"case_cnt"`
	BUomCode     *string   `json:"buom_code,omitempty"`
	SourceSystem string    `json:"source_system"`
	SourceRowKey *string   `json:"source_row_key,omitempty"`
}

// DimensionCounts reports rows affected per dimension pass.
type DimensionCounts struct {
	Products  int `json:"products"`
	Locations int `json:"locations"`
	Lots      int `json:"lots"`
}
