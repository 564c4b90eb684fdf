package validator

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/feichai0017/inventory-etl/internal/models"
	"github.com/feichai0017/inventory-etl/pkg/logger"
)

// BatchConfig 批次验证配置
type BatchConfig struct {
	RequiredColumns  []string
	NumericColumns   []string
	QuantityColumns  []string // numeric columns where a negative value is reported
	DateColumns      []string
	ReceiptColumns   []string // dates exported as YYYYMMDD with optional suffix
	DuplicateKeys    []string
	MinDuplicateKeys int

	RequiredCap  int
	NumericCap   int
	NegativeCap  int
	DuplicateCap int
	SampleSize   int

	// ExtraRules run after the built-in checks.
	ExtraRules []Rule
	// SummaryHook may add fields to the data summary.
	SummaryHook func(batch *models.RowBatch, summary map[string]interface{})
}

// Rule is an additional batch check.
type Rule func(batch *models.RowBatch) []models.QualityIssue

// DefaultBatchConfig returns the rule set for WMS inventory exports.
func DefaultBatchConfig() *BatchConfig {
	return &BatchConfig{
		RequiredColumns: []string{models.ColDate, models.ColSku, models.ColFacility, models.ColLoc, models.ColQty},
		NumericColumns: []string{
			models.ColQty, models.ColBQty, models.ColQtyAllocated, models.ColCaseCnt,
			models.ColShelfLife, models.ColStopShipLeadTime,
		},
		QuantityColumns: []string{models.ColQty, models.ColBQty, models.ColQtyAllocated, models.ColCaseCnt},
		DateColumns:     []string{models.ColDate, models.ColManfDate, models.ColExpiry, models.ColStopShipDate},
		ReceiptColumns:  []string{models.ColReceiptDate},
		DuplicateKeys: []string{
			models.ColDate, models.ColSku, models.ColFacility, models.ColLoc, models.ColSloc, models.ColWMSLot,
		},
		MinDuplicateKeys: 4,
		RequiredCap:      10,
		NumericCap:       5,
		NegativeCap:      5,
		DuplicateCap:     10,
		SampleSize:       3,
	}
}

var (
	slashDate   = regexp.MustCompile(`^\d{4}/\d{1,2}/\d{1,2}$`)
	numericText = regexp.MustCompile(models.NumericPattern)
)

// BatchValidator runs the data-quality checks over a row batch. It holds no
// per-call state and is safe for concurrent use.
type BatchValidator struct {
	cfg    *BatchConfig
	logger logger.Logger
}

// NewBatchValidator 创建批次验证器
func NewBatchValidator(log logger.Logger, cfg *BatchConfig) *BatchValidator {
	if cfg == nil {
		cfg = DefaultBatchConfig()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &BatchValidator{cfg: cfg, logger: log}
}

// Validate checks batch and never fails: a panic inside a rule becomes a
// single error issue on the result.
func (v *BatchValidator) Validate(batch *models.RowBatch, label string) (result *models.ValidationResult) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error("Batch validation crashed",
				logger.String("label", label),
				logger.Any("panic", r),
			)
			result = &models.ValidationResult{
				IsValid:      false,
				TotalRecords: batch.Len(),
				ErrorCount:   1,
				Issues: []models.QualityIssue{{
					Type:     models.IssueValidationCrashed,
					Message:  fmt.Sprintf("validation crashed: %v", r),
					Severity: models.SeverityError,
				}},
				DataSummary: map[string]interface{}{},
			}
		}
	}()

	if batch == nil {
		batch = &models.RowBatch{}
	}

	var issues []models.QualityIssue
	issues = append(issues, v.checkRequired(batch)...)
	issues = append(issues, v.checkNumeric(batch)...)
	issues = append(issues, v.checkDates(batch)...)
	issues = append(issues, v.checkAllocation(batch)...)
	issues = append(issues, v.checkDuplicates(batch)...)
	for _, rule := range v.cfg.ExtraRules {
		issues = append(issues, rule(batch)...)
	}

	errorCount, warningCount := 0, 0
	errorRows := make(map[int]struct{})
	for _, issue := range issues {
		switch issue.Severity {
		case models.SeverityError:
			errorCount++
			if issue.RowNumber > 0 {
				errorRows[issue.RowNumber] = struct{}{}
			}
		case models.SeverityWarning:
			warningCount++
		}
	}

	validRows := batch.Len() - len(errorRows)
	if validRows < 0 {
		validRows = 0
	}
	if issues == nil {
		issues = []models.QualityIssue{}
	}

	return &models.ValidationResult{
		IsValid:      errorCount == 0,
		TotalRecords: batch.Len(),
		ValidRows:    validRows,
		ErrorCount:   errorCount,
		WarningCount: warningCount,
		Issues:       issues,
		DataSummary:  v.summarize(batch, label),
	}
}

func (v *BatchValidator) checkRequired(batch *models.RowBatch) []models.QualityIssue {
	var issues []models.QualityIssue

	for _, col := range v.cfg.RequiredColumns {
		if !batch.HasColumn(col) {
			issues = append(issues, models.QualityIssue{
				Type:     models.IssueMissingRequiredField,
				Message:  fmt.Sprintf("missing required column: %s", col),
				Column:   col,
				Severity: models.SeverityError,
			})
		}
	}

	for _, col := range v.cfg.RequiredColumns {
		if !batch.HasColumn(col) {
			continue
		}
		blank := 0
		for i, row := range batch.Rows {
			if !models.IsBlank(row[col]) {
				continue
			}
			blank++
			if blank <= v.cfg.RequiredCap {
				issues = append(issues, models.QualityIssue{
					Type:      models.IssueMissingRequiredField,
					Message:   fmt.Sprintf("required column %s is blank", col),
					Column:    col,
					RowNumber: i + 1,
					Severity:  models.SeverityError,
				})
			}
		}
		if blank > v.cfg.RequiredCap {
			issues = append(issues, models.QualityIssue{
				Type:     models.IssueMissingRequiredField,
				Message:  fmt.Sprintf("column %s has %d more blank values", col, blank-v.cfg.RequiredCap),
				Column:   col,
				Severity: models.SeverityWarning,
			})
		}
	}

	return issues
}

func (v *BatchValidator) checkNumeric(batch *models.RowBatch) []models.QualityIssue {
	var issues []models.QualityIssue

	for _, col := range v.cfg.NumericColumns {
		if !batch.HasColumn(col) {
			continue
		}
		signed := contains(v.cfg.QuantityColumns, col)
		nonNumeric, negative := 0, 0

		for i, row := range batch.Rows {
			raw := row[col]
			if models.IsBlank(raw) {
				continue
			}
			f, err := ParseNumber(raw)
			if err != nil {
				nonNumeric++
				if nonNumeric <= v.cfg.NumericCap {
					issues = append(issues, models.QualityIssue{
						Type:         models.IssueInvalidDataFormat,
						Message:      fmt.Sprintf("%s is not numeric: %s", col, raw),
						Column:       col,
						RowNumber:    i + 1,
						Severity:     models.SeverityError,
						CurrentValue: raw,
					})
				}
				continue
			}
			if signed && f < 0 {
				negative++
				if negative <= v.cfg.NegativeCap {
					issues = append(issues, models.QualityIssue{
						Type:         models.IssueNegativeQuantity,
						Message:      fmt.Sprintf("%s is negative: %s (row %d)", col, raw, i+1),
						Column:       col,
						RowNumber:    i + 1,
						Severity:     models.SeverityWarning,
						CurrentValue: raw,
					})
				}
			}
		}

		if nonNumeric > v.cfg.NumericCap {
			issues = append(issues, models.QualityIssue{
				Type:     models.IssueInvalidDataFormat,
				Message:  fmt.Sprintf("%s has %d more non-numeric values", col, nonNumeric-v.cfg.NumericCap),
				Column:   col,
				Severity: models.SeverityWarning,
			})
		}
		if negative > v.cfg.NegativeCap {
			issues = append(issues, models.QualityIssue{
				Type:     models.IssueNegativeQuantity,
				Message:  fmt.Sprintf("%s has %d more negative values", col, negative-v.cfg.NegativeCap),
				Column:   col,
				Severity: models.SeverityWarning,
			})
		}
	}

	return issues
}

func (v *BatchValidator) checkDates(batch *models.RowBatch) []models.QualityIssue {
	var issues []models.QualityIssue

	check := func(col string, valid func(string) bool) {
		if !batch.HasColumn(col) {
			return
		}
		for i, row := range batch.Rows {
			raw := strings.TrimSpace(row[col])
			if raw == "" || valid(raw) {
				continue
			}
			issues = append(issues, models.QualityIssue{
				Type:         models.IssueInvalidDateFormat,
				Message:      fmt.Sprintf("%s has an invalid date: %s", col, raw),
				Column:       col,
				RowNumber:    i + 1,
				Severity:     models.SeverityWarning,
				CurrentValue: raw,
			})
		}
	}

	for _, col := range v.cfg.DateColumns {
		check(col, func(s string) bool {
			_, ok := ParseSlashDate(s)
			return ok
		})
	}
	for _, col := range v.cfg.ReceiptColumns {
		check(col, func(s string) bool {
			_, ok := ParseReceiptDate(s)
			return ok
		})
	}

	return issues
}

func (v *BatchValidator) checkAllocation(batch *models.RowBatch) []models.QualityIssue {
	if !batch.HasColumn(models.ColQty) || !batch.HasColumn(models.ColQtyAllocated) {
		return nil
	}

	var issues []models.QualityIssue
	for i, row := range batch.Rows {
		qty, err := numberOrZero(row[models.ColQty])
		if err != nil {
			continue
		}
		allocated, err := numberOrZero(row[models.ColQtyAllocated])
		if err != nil {
			continue
		}
		if allocated > qty {
			issues = append(issues, models.QualityIssue{
				Type:         models.IssueOverAllocation,
				Message:      fmt.Sprintf("allocated quantity (%s) exceeds quantity (%s)", formatNumber(allocated), formatNumber(qty)),
				Column:       models.ColQtyAllocated,
				RowNumber:    i + 1,
				Severity:     models.SeverityError,
				CurrentValue: fmt.Sprintf("Allocated: %s, Available: %s", formatNumber(allocated), formatNumber(qty)),
			})
		}
	}
	return issues
}

func (v *BatchValidator) checkDuplicates(batch *models.RowBatch) []models.QualityIssue {
	var keys []string
	for _, col := range v.cfg.DuplicateKeys {
		if batch.HasColumn(col) {
			keys = append(keys, col)
		}
	}
	if len(keys) < v.cfg.MinDuplicateKeys {
		return nil
	}

	groups := make(map[string][]int, batch.Len())
	for i, row := range batch.Rows {
		parts := make([]string, len(keys))
		for k, col := range keys {
			parts[k] = row[col]
		}
		key := strings.Join(parts, "\x1f")
		groups[key] = append(groups[key], i)
	}

	var dupes []int
	for _, idx := range groups {
		if len(idx) > 1 {
			dupes = append(dupes, idx...)
		}
	}
	sort.Ints(dupes)

	var issues []models.QualityIssue
	basis := strings.Join(keys, ", ")
	for n, i := range dupes {
		if n >= v.cfg.DuplicateCap {
			break
		}
		issues = append(issues, models.QualityIssue{
			Type:      models.IssueDuplicateRecord,
			Message:   fmt.Sprintf("possible duplicate record (by: %s)", basis),
			RowNumber: i + 1,
			Severity:  models.SeverityInfo,
		})
	}
	if len(dupes) > v.cfg.DuplicateCap {
		issues = append(issues, models.QualityIssue{
			Type:     models.IssueDuplicateRecord,
			Message:  fmt.Sprintf("%d possible duplicate records in total", len(dupes)),
			Severity: models.SeverityInfo,
		})
	}
	return issues
}

// summarize is best-effort; a panic degrades to a minimal summary.
func (v *BatchValidator) summarize(batch *models.RowBatch, label string) (summary map[string]interface{}) {
	if label == "" {
		label = "Unknown"
	}
	defer func() {
		if r := recover(); r != nil {
			summary = map[string]interface{}{
				"sheet_name":    label,
				"total_rows":    batch.Len(),
				"total_columns": 0,
				"error":         fmt.Sprint(r),
			}
		}
	}()

	summary = map[string]interface{}{
		"sheet_name":    label,
		"total_rows":    batch.Len(),
		"total_columns": len(batch.Headers),
		"columns":       append([]string(nil), batch.Headers...),
	}
	if batch.Len() == 0 {
		return summary
	}

	if batch.HasColumn(models.ColSku) {
		summary["unique_skus"] = distinct(batch, models.ColSku)
		summary["sample_skus"] = sample(batch, models.ColSku, v.cfg.SampleSize)
	}
	if batch.HasColumn(models.ColBrand) {
		summary["unique_brands"] = distinct(batch, models.ColBrand)
	}
	if batch.HasColumn(models.ColFacility) {
		summary["unique_facilities"] = distinct(batch, models.ColFacility)
	}
	if batch.HasColumn(models.ColQty) {
		count := 0
		for _, row := range batch.Rows {
			if !models.IsBlank(row[models.ColQty]) {
				count++
			}
		}
		summary["has_quantity_data"] = true
		summary["qty_records"] = count
	} else {
		summary["has_quantity_data"] = false
	}
	if v.cfg.SummaryHook != nil {
		v.cfg.SummaryHook(batch, summary)
	}
	return summary
}

func distinct(batch *models.RowBatch, col string) int {
	seen := make(map[string]struct{})
	for _, row := range batch.Rows {
		if v := strings.TrimSpace(row[col]); v != "" {
			seen[v] = struct{}{}
		}
	}
	return len(seen)
}

func sample(batch *models.RowBatch, col string, n int) []string {
	out := make([]string, 0, n)
	for _, row := range batch.Rows {
		if len(out) == n {
			break
		}
		if v := strings.TrimSpace(row[col]); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// ParseNumber parses a cell that may carry thousands separators. Only
// models.NumericPattern is accepted, so Inf, NaN and hex floats are rejected.
func ParseNumber(raw string) (float64, error) {
	s := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if !numericText.MatchString(s) {
		return 0, fmt.Errorf("invalid number %q", raw)
	}
	return strconv.ParseFloat(s, 64)
}

func numberOrZero(raw string) (float64, error) {
	if models.IsBlank(raw) {
		return 0, nil
	}
	return ParseNumber(raw)
}

// ParseSlashDate parses YYYY/M/D.
func ParseSlashDate(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if !slashDate.MatchString(s) {
		return time.Time{}, false
	}
	t, err := time.Parse("2006/1/2", s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ParseReceiptDate parses the leading YYYYMMDD of a receipt stamp.
func ParseReceiptDate(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if len(s) < 8 {
		return time.Time{}, false
	}
	for _, c := range s[:8] {
		if c < '0' || c > '9' {
			return time.Time{}, false
		}
	}
	t, err := time.Parse("20060102", s[:8])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
