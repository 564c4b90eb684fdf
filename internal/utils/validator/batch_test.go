package validator

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/feichai0017/inventory-etl/internal/models"
	"github.com/feichai0017/inventory-etl/pkg/logger"
)

var inventoryHeaders = []string{"Date", "Sku", "Facility", "Loc", "Qty", "QtyAllocated"}

func batchOf(headers []string, rows ...[]string) *models.RowBatch {
	return models.NewRowBatch("Sheet1", headers, rows)
}

func TestValidateCleanBatch(t *testing.T) {
	v := NewBatchValidator(logger.NewNop(), nil)
	res := v.Validate(batchOf(inventoryHeaders,
		[]string{"2025/08/28", "TW001", "E230", "A01", "100", "10"},
		[]string{"2025/08/28", "TW002", "E230", "A02", "1,200", ""},
	), "Sheet1")

	require.True(t, res.IsValid)
	require.Equal(t, 2, res.TotalRecords)
	require.Equal(t, 2, res.ValidRows)
	require.Zero(t, res.ErrorCount)
	require.Empty(t, res.Issues)
	require.Equal(t, "Sheet1", res.DataSummary["sheet_name"])
	require.Equal(t, 2, res.DataSummary["unique_skus"])
	require.Equal(t, []string{"TW001", "TW002"}, res.DataSummary["sample_skus"])
	require.Equal(t, true, res.DataSummary["has_quantity_data"])
}

func TestValidateMissingColumnsAndBlanks(t *testing.T) {
	v := NewBatchValidator(logger.NewNop(), nil)
	res := v.Validate(batchOf([]string{"Date", "Sku", "Qty"},
		[]string{"2025/08/28", "", "5"},
	), "Sheet1")

	require.False(t, res.IsValid)
	missing := res.IssuesOfType(models.IssueMissingRequiredField)
	// Facility and Loc columns, then the blank Sku on row 1
	require.Len(t, missing, 3)
	require.Equal(t, "Facility", missing[0].Column)
	require.Zero(t, missing[0].RowNumber)
	require.Equal(t, "Sku", missing[2].Column)
	require.Equal(t, 1, missing[2].RowNumber)
	require.Equal(t, 0, res.ValidRows)
}

func TestValidateBlankCapBecomesWarning(t *testing.T) {
	v := NewBatchValidator(logger.NewNop(), nil)
	var rows [][]string
	for i := 0; i < 50; i++ {
		rows = append(rows, []string{"2025/08/28", fmt.Sprintf("SKU%d", i), "E230", "", "1", "0"})
	}
	res := v.Validate(batchOf(inventoryHeaders, rows...), "Sheet1")

	var loc []models.QualityIssue
	for _, issue := range res.Issues {
		if issue.Column == "Loc" {
			loc = append(loc, issue)
		}
	}
	require.Len(t, loc, 11)
	require.Equal(t, 10, loc[9].RowNumber)
	require.Equal(t, models.SeverityWarning, loc[10].Severity)
	require.Zero(t, loc[10].RowNumber)
	require.Contains(t, loc[10].Message, "40 more blank values")
	require.Equal(t, 10, res.ErrorCount)
	require.Equal(t, 1, res.WarningCount)
	require.Equal(t, 40, res.ValidRows)
}

func TestValidateCrashBecomesSingleIssue(t *testing.T) {
	cfg := DefaultBatchConfig()
	cfg.ExtraRules = []Rule{func(*models.RowBatch) []models.QualityIssue {
		panic("rule exploded")
	}}
	log := logger.NewTestLogger()
	v := NewBatchValidator(log, cfg)

	res := v.Validate(batchOf(inventoryHeaders,
		[]string{"2025/08/28", "TW001", "E230", "A01", "100", "10"},
	), "Sheet1")

	require.False(t, res.IsValid)
	require.Equal(t, 1, res.TotalRecords)
	require.Equal(t, 1, res.ErrorCount)
	require.Len(t, res.Issues, 1)
	require.Equal(t, models.IssueValidationCrashed, res.Issues[0].Type)
	require.Equal(t, models.SeverityError, res.Issues[0].Severity)
	require.Contains(t, res.Issues[0].Message, "rule exploded")
	require.Len(t, log.Messages("ERROR"), 1)
}

func TestValidateSummaryFailureDegrades(t *testing.T) {
	cfg := DefaultBatchConfig()
	cfg.SummaryHook = func(*models.RowBatch, map[string]interface{}) {
		panic("summary exploded")
	}
	v := NewBatchValidator(logger.NewNop(), cfg)

	res := v.Validate(batchOf(inventoryHeaders,
		[]string{"2025/08/28", "TW001", "E230", "A01", "100", "10"},
	), "Sheet1")

	require.True(t, res.IsValid)
	require.Equal(t, "summary exploded", res.DataSummary["error"])
	require.Equal(t, "Sheet1", res.DataSummary["sheet_name"])
	require.Equal(t, 1, res.DataSummary["total_rows"])
	require.Equal(t, 0, res.DataSummary["total_columns"])
	require.NotContains(t, res.DataSummary, "unique_skus")
}

func TestValidateSummaryHookAddsFields(t *testing.T) {
	cfg := DefaultBatchConfig()
	cfg.SummaryHook = func(b *models.RowBatch, summary map[string]interface{}) {
		summary["source"] = "WMS"
	}
	res := NewBatchValidator(logger.NewNop(), cfg).Validate(batchOf(inventoryHeaders,
		[]string{"2025/08/28", "TW001", "E230", "A01", "100", "10"},
	), "Sheet1")
	require.Equal(t, "WMS", res.DataSummary["source"])
}

func TestValidateNumericAndNegative(t *testing.T) {
	v := NewBatchValidator(logger.NewNop(), nil)
	res := v.Validate(batchOf(inventoryHeaders,
		[]string{"2025/08/28", "TW001", "E230", "A01", "abc", "0"},
		[]string{"2025/08/28", "TW002", "E230", "A02", "-3", "0"},
	), "Sheet1")

	require.False(t, res.IsValid)
	bad := res.IssuesOfType(models.IssueInvalidDataFormat)
	require.Len(t, bad, 1)
	require.Equal(t, "abc", bad[0].CurrentValue)
	require.Equal(t, models.SeverityError, bad[0].Severity)

	neg := res.IssuesOfType(models.IssueNegativeQuantity)
	require.Len(t, neg, 1)
	require.Equal(t, models.SeverityWarning, neg[0].Severity)
	require.Equal(t, 2, neg[0].RowNumber)
}

func TestValidateOverAllocation(t *testing.T) {
	v := NewBatchValidator(logger.NewNop(), nil)
	res := v.Validate(batchOf(inventoryHeaders,
		[]string{"2025/08/28", "TW001", "E230", "A01", "100", "200"},
	), "Sheet1")

	require.False(t, res.IsValid)
	over := res.IssuesOfType(models.IssueOverAllocation)
	require.Len(t, over, 1)
	require.Equal(t, "allocated quantity (200) exceeds quantity (100)", over[0].Message)
	require.Equal(t, "Allocated: 200, Available: 100", over[0].CurrentValue)
}

func TestValidateDatesAreWarnings(t *testing.T) {
	v := NewBatchValidator(logger.NewNop(), nil)
	headers := append(append([]string(nil), inventoryHeaders...), "Receipt Date", "Expiry")
	res := v.Validate(batchOf(headers,
		[]string{"28-08-2025", "TW001", "E230", "A01", "1", "0", "20250801A", "2026/1/5"},
		[]string{"2025/08/28", "TW002", "E230", "A02", "1", "0", "2025-08", "not a date"},
	), "Sheet1")

	require.True(t, res.IsValid)
	dates := res.IssuesOfType(models.IssueInvalidDateFormat)
	require.Len(t, dates, 3)
	require.Equal(t, 3, res.WarningCount)
}

func TestValidateDuplicatesAreInfo(t *testing.T) {
	v := NewBatchValidator(logger.NewNop(), nil)
	row := []string{"2025/08/28", "TW001", "E230", "A01", "1", "0"}
	res := v.Validate(batchOf(inventoryHeaders, row, row, []string{"2025/08/28", "TW002", "E230", "A01", "1", "0"}), "Sheet1")

	require.True(t, res.IsValid)
	dupes := res.IssuesOfType(models.IssueDuplicateRecord)
	require.Len(t, dupes, 2)
	require.Equal(t, 1, dupes[0].RowNumber)
	require.Equal(t, 2, dupes[1].RowNumber)
	require.Zero(t, res.WarningCount)
}

func TestValidateSkipsDuplicatesWithFewKeyColumns(t *testing.T) {
	v := NewBatchValidator(logger.NewNop(), nil)
	row := []string{"2025/08/28", "TW001", "5"}
	res := v.Validate(batchOf([]string{"Date", "Sku", "Qty"}, row, row), "x")
	require.Empty(t, res.IssuesOfType(models.IssueDuplicateRecord))
}

func TestValidateEmptyBatch(t *testing.T) {
	v := NewBatchValidator(nil, nil)
	res := v.Validate(nil, "")
	require.False(t, res.IsValid)
	require.Zero(t, res.TotalRecords)
	require.Equal(t, "Unknown", res.DataSummary["sheet_name"])
}

func TestParseHelpers(t *testing.T) {
	f, err := ParseNumber(" 1,234.5 ")
	require.NoError(t, err)
	require.Equal(t, 1234.5, f)
	f, err = ParseNumber("1.5E+3")
	require.NoError(t, err)
	require.Equal(t, 1500.0, f)
	for _, bad := range []string{"Inf", "-inf", "NaN", "0x10", "1_000"} {
		_, err = ParseNumber(bad)
		require.Error(t, err, bad)
	}

	_, ok := ParseSlashDate("2025/8/1")
	require.True(t, ok)
	_, ok = ParseSlashDate("2025/13/1")
	require.False(t, ok)

	d, ok := ParseReceiptDate("20250801-03")
	require.True(t, ok)
	require.Equal(t, 2025, d.Year())
	_, ok = ParseReceiptDate("2025080")
	require.False(t, ok)
}
