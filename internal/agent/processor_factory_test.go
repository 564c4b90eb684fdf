package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/feichai0017/inventory-etl/internal/agent/tabular"
	"github.com/feichai0017/inventory-etl/pkg/logger"
)

func TestGetParserByExtension(t *testing.T) {
	f := NewProcessorFactory(logger.NewNop())

	for _, name := range []string{"a.xlsx", "B.XLSM", "c.csv"} {
		_, err := f.GetParser(name)
		require.NoError(t, err, name)
	}
	_, err := f.GetParser("a.xls")
	require.Error(t, err)
}

func TestParseWithoutDataRows(t *testing.T) {
	f := NewProcessorFactory(logger.NewNop())
	_, err := f.Parse(context.Background(), []byte("Sku,Qty\n"), "stock.csv")
	require.ErrorIs(t, err, tabular.ErrNoData)
}

func TestInspect(t *testing.T) {
	f := NewProcessorFactory(logger.NewNop())
	sheets, err := f.Inspect(context.Background(), []byte("Sku,Qty\nA,1\n"), "stock.csv")
	require.NoError(t, err)
	require.Len(t, sheets, 1)
	require.Equal(t, []string{"Sku", "Qty"}, sheets[0].Columns)
}
