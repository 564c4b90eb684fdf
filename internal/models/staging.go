package models

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Source column headers as exported by the WMS inventory report.
const (
	ColDate             = "Date"
	ColSku              = "Sku"
	ColDescr            = "Descr"
	ColBrand            = "Brand"
	ColSkuGroup         = "Skugroup"
	ColFacility         = "Facility"
	ColLoc              = "Loc"
	ColSloc             = "SLOC"
	ColQty              = "Qty"
	ColBQty             = "BQty"
	ColQtyAllocated     = "QtyAllocated"
	ColCaseCnt          = "CaseCnt"
	ColBUom             = "BUom"
	ColWMSLot           = "WMS Lot"
	ColManfDate         = "Manf_Date"
	ColReceiptDate      = "Receipt Date"
	ColStopShipDate     = "DC Stop Ship Date"
	ColShelfLife        = "Shelflife"
	ColStopShipLeadTime = "Stop Ship Lead time"
	ColEAN              = "EAN"
	ColITF14            = "ITF-14"
	ColReason           = "REASON"
	ColRemark           = "Remark"
	ColID               = "Id"
	ColExpiry           = "Expiry"
)

// StagingStatusPending is the status every freshly staged row carries.
const StagingStatusPending = "pending"

// StagingRecord is the string-typed mirror of one uploaded row. Parsing of
// numbers and dates is deferred to dimension/fact resolution.
type StagingRecord struct {
	SourceFile string
	RowNum     int
	Status     string

	Date             string
	Sku              string
	Descr            string
	Brand            string
	SkuGroup         string
	Facility         string
	Loc              string
	Sloc             string
	Qty              string
	BQty             string
	QtyAllocated     string
	CaseCnt          string
	BUom             string
	WMSLot           string
	ManfDate         string
	ReceiptDate      string
	StopShipDate     string
	ShelfLife        string
	StopShipLeadTime string
	EAN              string
	ITF14            string
	Reason           string
	Remark           string
	SourceID         string
}

// StagingColumn binds one source header to one staging table column.
type StagingColumn struct {
	Header  string
	Column  string
	Default string
	Field   func(*StagingRecord) *string
}

// StagingColumns is the fixed source-header to staging-column table.
var StagingColumns = []StagingColumn{
	{ColDate, "date", "", func(r *StagingRecord) *string { return &r.Date }},
	{ColSku, "sku", "", func(r *StagingRecord) *string { return &r.Sku }},
	{ColDescr, "descr", "", func(r *StagingRecord) *string { return &r.Descr }},
	{ColBrand, "brand", "", func(r *StagingRecord) *string { return &r.Brand }},
	{ColSkuGroup, "skugroup", "", func(r *StagingRecord) *string { return &r.SkuGroup }},
	{ColFacility, "facility", "", func(r *StagingRecord) *string { return &r.Facility }},
	{ColLoc, "loc", "", func(r *StagingRecord) *string { return &r.Loc }},
	{ColSloc, "sloc", "", func(r *StagingRecord) *string { return &r.Sloc }},
	{ColQty, "qty", "", func(r *StagingRecord) *string { return &r.Qty }},
	{ColBQty, "bqty", "", func(r *StagingRecord) *string { return &r.BQty }},
	{ColQtyAllocated, "qty_allocated", "", func(r *StagingRecord) *string { return &r.QtyAllocated }},
	{ColCaseCnt, "case_cnt", "", func(r *StagingRecord) *string { return &r.CaseCnt }},
	{ColBUom, "buom", "", func(r *StagingRecord) *string { return &r.BUom }},
	{ColWMSLot, "wms_lot", "", func(r *StagingRecord) *string { return &r.WMSLot }},
	{ColManfDate, "manf_date", "", func(r *StagingRecord) *string { return &r.ManfDate }},
	{ColReceiptDate, "receipt_date", "", func(r *StagingRecord) *string { return &r.ReceiptDate }},
	{ColStopShipDate, "dc_stop_ship_date", "", func(r *StagingRecord) *string { return &r.StopShipDate }},
	{ColShelfLife, "shelflife", "", func(r *StagingRecord) *string { return &r.ShelfLife }},
	{ColStopShipLeadTime, "stop_ship_lead_time", "", func(r *StagingRecord) *string { return &r.StopShipLeadTime }},
	{ColEAN, "ean", "", func(r *StagingRecord) *string { return &r.EAN }},
	{ColITF14, "itf14", "", func(r *StagingRecord) *string { return &r.ITF14 }},
	{ColReason, "reason", "", func(r *StagingRecord) *string { return &r.Reason }},
	{ColRemark, "remark", "", func(r *StagingRecord) *string { return &r.Remark }},
	{ColID, "source_id", "", func(r *StagingRecord) *string { return &r.SourceID }},
}

// StagingTableColumns lists the staging table columns in insert order.
func StagingTableColumns() []string {
	cols := make([]string, 0, len(StagingColumns)+3)
	cols = append(cols, "source_file", "row_num", "status")
	for _, c := range StagingColumns {
		cols = append(cols, c.Column)
	}
	return cols
}

// MapStagingRecord maps row onto the staging schema. Absent or blank
// headers take the column default; present values are trimmed.
func MapStagingRecord(row Row, sourceFile string, rowNum int) (StagingRecord, error) {
	rec := StagingRecord{
		SourceFile: sourceFile,
		RowNum:     rowNum,
		Status:     StagingStatusPending,
	}
	if row == nil {
		return rec, fmt.Errorf("row %d is empty", rowNum)
	}
	for _, c := range StagingColumns {
		v, ok := row[c.Header]
		v = strings.TrimSpace(v)
		if !ok || v == "" {
			v = c.Default
		}
		if !utf8.ValidString(v) {
			return rec, fmt.Errorf("row %d column %q: invalid UTF-8", rowNum, c.Header)
		}
		*c.Field(&rec) = v
	}
	return rec, nil
}

// Row maps the record back onto source headers.
func (r StagingRecord) Row() Row {
	row := make(Row, len(StagingColumns))
	for _, c := range StagingColumns {
		row[c.Header] = *c.Field(&r)
	}
	return row
}

// Values returns the insert values in StagingTableColumns order.
func (r StagingRecord) Values() []any {
	vals := make([]any, 0, len(StagingColumns)+3)
	vals = append(vals, r.SourceFile, r.RowNum, r.Status)
	for _, c := range StagingColumns {
		vals = append(vals, *c.Field(&r))
	}
	return vals
}
