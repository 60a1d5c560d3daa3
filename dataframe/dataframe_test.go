package dataframe_test

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpwhite4/xdmod-go/dataframe"
)

func cell(v string) dataframe.Cell { return dataframe.NewCell(v) }

func testTable(t *testing.T) *dataframe.Table {
	t.Helper()
	table, err := dataframe.NewTable(
		[]string{"Resource", "Wall Time", "CPU User"},
		[][]dataframe.Cell{
			{cell("STAMPEDE2 TACC"), cell("3600"), cell("0.91")},
			{cell("Bridges 2 RM"), dataframe.MissingCell, cell("0.33")},
			{cell("STAMPEDE2 TACC"), cell("0"), dataframe.MissingCell},
			{cell("Bridges 2 RM"), cell("120"), cell("0.5")},
		},
	)
	require.NoError(t, err)
	return table
}

func TestNewTableRejectsMalformedInput(t *testing.T) {
	_, err := dataframe.NewTable(nil, nil)
	assert.Error(t, err)

	_, err = dataframe.NewTable([]string{"a", "a"}, nil)
	assert.Error(t, err, "duplicate columns must be rejected")

	_, err = dataframe.NewTable([]string{"a", "b"}, [][]dataframe.Cell{{cell("1")}})
	assert.Error(t, err, "ragged rows must be rejected")
}

func TestDropMissingRemovesExactlyMissingRows(t *testing.T) {
	table := testTable(t)

	kept, err := table.DropMissing("Wall Time")
	require.NoError(t, err)
	assert.Equal(t, 3, kept.NumRows(), "only the row missing Wall Time goes")

	// The zero-valued row survives: zero is a measurement.
	zero, err := kept.At(1, "Wall Time")
	require.NoError(t, err)
	assert.True(t, zero.Valid)
	assert.Equal(t, "0", zero.Value)

	// Original table is untouched.
	assert.Equal(t, 4, table.NumRows())
}

func TestDropMissingIsIdempotent(t *testing.T) {
	table := testTable(t)

	once, err := table.DropMissing("Wall Time")
	require.NoError(t, err)
	twice, err := once.DropMissing("Wall Time")
	require.NoError(t, err)

	assert.Equal(t, once.NumRows(), twice.NumRows())
}

func TestDropMissingDefaultsToAllColumns(t *testing.T) {
	table := testTable(t)

	kept, err := table.DropMissing()
	require.NoError(t, err)
	assert.Equal(t, 2, kept.NumRows())
}

func TestDropMissingUnknownColumn(t *testing.T) {
	table := testTable(t)
	_, err := table.DropMissing("Walll Time")
	assert.Error(t, err)
}

func TestCastFloat64KeepsMissingDistinctFromZero(t *testing.T) {
	table := testTable(t)

	numeric, err := table.CastFloat64("Wall Time", "CPU User")
	require.NoError(t, err)
	assert.Equal(t, []string{"Wall Time", "CPU User"}, numeric.Columns())

	zero, err := numeric.At(2, "Wall Time")
	require.NoError(t, err)
	assert.True(t, zero.Valid, "a measured zero stays valid")
	assert.Equal(t, 0.0, zero.Float64)

	missing, err := numeric.At(1, "Wall Time")
	require.NoError(t, err)
	assert.False(t, missing.Valid, "a missing cell stays missing, not coerced to zero")
}

func TestCastFloat64IsLosslessForExactValues(t *testing.T) {
	table, err := dataframe.NewTable([]string{"v"}, [][]dataframe.Cell{
		{cell("4503599627370496")}, // 2^52
		{cell("-0.5")},
		{cell("1e9")},
	})
	require.NoError(t, err)

	numeric, err := table.CastFloat64()
	require.NoError(t, err)

	for i, want := range []float64{4503599627370496, -0.5, 1e9} {
		got, err := numeric.At(i, "v")
		require.NoError(t, err)
		assert.Equal(t, want, got.Float64)
	}
}

func TestCastFloat64RejectsNonNumericCells(t *testing.T) {
	table := testTable(t)
	_, err := table.CastFloat64("Resource")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Resource")
}

func TestSplitSizesAndReproducibility(t *testing.T) {
	rows := make([][]dataframe.Cell, 83)
	for i := range rows {
		rows[i] = []dataframe.Cell{cell("1"), cell("2")}
	}
	table, err := dataframe.NewTable([]string{"a", "b"}, rows)
	require.NoError(t, err)
	numeric, err := table.CastFloat64()
	require.NoError(t, err)

	train, test, err := numeric.Split(0.10, 42)
	require.NoError(t, err)

	// round(0.10 × 83) = 8.
	assert.Equal(t, 8, test.NumRows())
	assert.Equal(t, 83, train.NumRows()+test.NumRows())

	train2, test2, err := numeric.Split(0.10, 42)
	require.NoError(t, err)
	assert.Equal(t, train.NumRows(), train2.NumRows())
	assert.Equal(t, test.NumRows(), test2.NumRows())

	_, otherTest, err := numeric.Split(0.10, 7)
	require.NoError(t, err)
	assert.Equal(t, test.NumRows(), otherTest.NumRows(), "size is seed-independent")
}

func TestSplitAssignmentIsSeedDeterministic(t *testing.T) {
	// Each row carries its own index so assignments are observable.
	rows := make([][]dataframe.Cell, 20)
	for i := range rows {
		rows[i] = []dataframe.Cell{cell(strconv.Itoa(i))}
	}
	table, err := dataframe.NewTable([]string{"id"}, rows)
	require.NoError(t, err)
	numeric, err := table.CastFloat64()
	require.NoError(t, err)

	_, test1, err := numeric.Split(0.25, 99)
	require.NoError(t, err)
	_, test2, err := numeric.Split(0.25, 99)
	require.NoError(t, err)

	require.Equal(t, test1.NumRows(), test2.NumRows())
	for i := 0; i < test1.NumRows(); i++ {
		a, err := test1.At(i, "id")
		require.NoError(t, err)
		b, err := test2.At(i, "id")
		require.NoError(t, err)
		assert.Equal(t, a.Float64, b.Float64, "same seed must pick the same rows")
	}
}

func TestSplitRejectsBadFraction(t *testing.T) {
	numeric := mustNumeric(t, 10)
	for _, frac := range []float64{0, 1, -0.5, 1.5} {
		_, _, err := numeric.Split(frac, 1)
		assert.Error(t, err, "fraction %v", frac)
	}
}

func TestMatrixRequiresDenseData(t *testing.T) {
	table := testTable(t)
	numeric, err := table.CastFloat64("Wall Time", "CPU User")
	require.NoError(t, err)

	_, _, err = numeric.Matrix([]string{"Wall Time"}, "CPU User")
	require.Error(t, err, "missing cells must be dropped before extraction")

	cleaned, err := table.DropMissing("Wall Time", "CPU User")
	require.NoError(t, err)
	dense, err := cleaned.CastFloat64("Wall Time", "CPU User")
	require.NoError(t, err)

	x, y, err := dense.Matrix([]string{"Wall Time"}, "CPU User")
	require.NoError(t, err)
	rows, cols := x.Dims()
	assert.Equal(t, 2, rows)
	assert.Equal(t, 1, cols)
	assert.Equal(t, 2, y.Len())
}

func TestRenderMarksMissingCells(t *testing.T) {
	table := testTable(t)
	out := table.Render(0)
	assert.Contains(t, out, "Resource")
	assert.Contains(t, out, "<NA>")
	assert.Contains(t, out, "STAMPEDE2 TACC")

	limited := table.Render(2)
	assert.Contains(t, limited, "2 of 4 rows shown")
}

func mustNumeric(t *testing.T, n int) *dataframe.FloatTable {
	t.Helper()
	rows := make([][]dataframe.Cell, n)
	for i := range rows {
		rows[i] = []dataframe.Cell{cell("1")}
	}
	table, err := dataframe.NewTable([]string{"a"}, rows)
	require.NoError(t, err)
	numeric, err := table.CastFloat64()
	require.NoError(t, err)
	return numeric
}
