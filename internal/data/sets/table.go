package sets

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/celltrace/server/internal/lineage"
)

// ReadTable parses a TSV table with cell ids in the first column and one
// numeric column per feature. Empty cells and the usual NA spellings become
// NaN. Used for both measurement matrices and gene-set score tables.
func ReadTable(path string) (*lineage.Dataset, error) {
	return readTable(path, nil)
}

// ReadTableColumns parses a TSV table keeping only the named columns,
// matched case-insensitively. Unknown names are ignored; an empty filter
// keeps every column.
func ReadTableColumns(path string, columns []string) (*lineage.Dataset, error) {
	if len(columns) == 0 {
		return readTable(path, nil)
	}
	keep := make(map[string]bool, len(columns))
	for _, c := range columns {
		keep[strings.ToLower(c)] = true
	}
	return readTable(path, keep)
}

func readTable(path string, keep map[string]bool) (*lineage.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open table: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	if !scanner.Scan() {
		return nil, fmt.Errorf("empty table: %s", path)
	}
	header := strings.Split(strings.TrimRight(scanner.Text(), "\r\n"), "\t")
	if len(header) < 2 {
		return nil, fmt.Errorf("table needs an id column and at least one feature column: %s", path)
	}

	var columns []string
	var colIdx []int
	for i, name := range header[1:] {
		if keep == nil || keep[strings.ToLower(name)] {
			columns = append(columns, name)
			colIdx = append(colIdx, i+1)
		}
	}

	var ids []string
	var x [][]float64
	lineNo := 1
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != len(header) {
			return nil, fmt.Errorf("line %d has %d fields, expected %d", lineNo, len(fields), len(header))
		}
		ids = append(ids, fields[0])
		row := make([]float64, len(colIdx))
		for j, src := range colIdx {
			row[j], err = parseCell(fields[src])
			if err != nil {
				return nil, fmt.Errorf("line %d column %q: %w", lineNo, header[src], err)
			}
		}
		x = append(x, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read table: %w", err)
	}

	return &lineage.Dataset{IDs: ids, Columns: columns, X: x}, nil
}

func parseCell(s string) (float64, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "na", "nan", "null":
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return v, nil
}
