package dataframe

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Split partitions the rows into train and test subsets. The test
// subset holds round(testFrac×N) rows chosen by a seeded shuffle, so a
// fixed seed always produces the identical row assignment. Row order
// within each subset follows the original table.
func (f *FloatTable) Split(testFrac float64, seed int64) (train, test *FloatTable, err error) {
	if testFrac <= 0 || testFrac >= 1 {
		return nil, nil, fmt.Errorf("dataframe: test fraction %v must be in (0,1)", testFrac)
	}

	n := len(f.rows)
	testN := int(math.Round(testFrac * float64(n)))

	perm := rand.New(rand.NewSource(seed)).Perm(n)
	testIdx := append([]int(nil), perm[:testN]...)
	trainIdx := append([]int(nil), perm[testN:]...)
	sort.Ints(testIdx)
	sort.Ints(trainIdx)

	return f.take(trainIdx), f.take(testIdx), nil
}

func (f *FloatTable) take(indices []int) *FloatTable {
	rows := make([][]NullFloat, len(indices))
	for i, idx := range indices {
		rows[i] = f.rows[idx]
	}
	return &FloatTable{cols: f.cols, rows: rows}
}

// Matrix extracts a dense feature matrix and target vector for model
// fitting. Every requested cell must be present; fetch results should
// go through DropMissing and CastFloat64 first.
func (f *FloatTable) Matrix(features []string, target string) (*mat.Dense, *mat.VecDense, error) {
	if len(features) == 0 {
		return nil, nil, fmt.Errorf("dataframe: at least one feature column is required")
	}

	featIdx := make([]int, len(features))
	for i, name := range features {
		idx := -1
		for j, c := range f.cols {
			if c == name {
				idx = j
				break
			}
		}
		if idx < 0 {
			return nil, nil, fmt.Errorf("dataframe: no column %q", name)
		}
		featIdx[i] = idx
	}
	targetIdx := -1
	for j, c := range f.cols {
		if c == target {
			targetIdx = j
			break
		}
	}
	if targetIdx < 0 {
		return nil, nil, fmt.Errorf("dataframe: no column %q", target)
	}

	n := len(f.rows)
	x := mat.NewDense(n, len(features), nil)
	y := mat.NewVecDense(n, nil)
	for r, row := range f.rows {
		for i, idx := range featIdx {
			cell := row[idx]
			if !cell.Valid {
				return nil, nil, fmt.Errorf("dataframe: column %q has a missing value at row %d", f.cols[idx], r)
			}
			x.Set(r, i, cell.Float64)
		}
		cell := row[targetIdx]
		if !cell.Valid {
			return nil, nil, fmt.Errorf("dataframe: column %q has a missing value at row %d", target, r)
		}
		y.SetVec(r, cell.Float64)
	}
	return x, y, nil
}
