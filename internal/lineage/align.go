package lineage

import "math"

// Align reindexes ds onto ids. The result has exactly len(ids) rows in ids
// order: rows for ids present in ds are copied, rows for absent ids are
// filled with NaN. Partial or even zero overlap is not an error; auxiliary
// tables are allowed to cover only a subset of the population.
func Align(ds *Dataset, ids []string) *Dataset {
	if ds == nil {
		return nil
	}

	byID := make(map[string]int, len(ds.IDs))
	for i, id := range ds.IDs {
		byID[id] = i
	}

	x := make([][]float64, len(ids))
	for i, id := range ids {
		row := make([]float64, len(ds.Columns))
		if src, ok := byID[id]; ok {
			copy(row, ds.X[src])
		} else {
			for j := range row {
				row[j] = math.NaN()
			}
		}
		x[i] = row
	}

	return &Dataset{
		IDs:     ids,
		Columns: ds.Columns,
		X:       x,
	}
}
