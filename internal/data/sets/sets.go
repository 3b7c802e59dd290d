// Package sets parses cell-set files (GMT/GMX) and per-cell TSV tables
// (measurement matrices and gene-set score tables) into the engine's
// in-memory inputs.
package sets

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/celltrace/server/internal/lineage"
)

// ReadCellSets parses a GMT or GMX file (chosen by extension) into the
// membership matrix the engine consumes.
func ReadCellSets(path string) (*lineage.CellSetMatrix, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gmt":
		return ReadGMT(path)
	case ".gmx":
		return ReadGMX(path)
	default:
		return nil, fmt.Errorf("unsupported cell set format: %s (want .gmt or .gmx)", path)
	}
}

// ReadGMT parses a GMT file: one set per line, tab-separated as
// name <tab> description <tab> member...
func ReadGMT(path string) (*lineage.CellSetMatrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cell sets: %w", err)
	}
	defer f.Close()

	var names []string
	members := make(map[string][]string)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 3 {
			return nil, fmt.Errorf("malformed GMT line: %q", line)
		}
		name := fields[0]
		names = append(names, name)
		for _, id := range fields[2:] {
			if id != "" {
				members[name] = append(members[name], id)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cell sets: %w", err)
	}
	return buildMatrix(names, members)
}

// ReadGMX parses a GMX file: one set per column, with set names in the
// first row, descriptions in the second and members below.
func ReadGMX(path string) (*lineage.CellSetMatrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cell sets: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	if !scanner.Scan() {
		return nil, fmt.Errorf("empty GMX file: %s", path)
	}
	names := strings.Split(strings.TrimRight(scanner.Text(), "\r\n"), "\t")
	if !scanner.Scan() {
		return nil, fmt.Errorf("GMX file missing description row: %s", path)
	}

	members := make(map[string][]string)
	for scanner.Scan() {
		fields := strings.Split(strings.TrimRight(scanner.Text(), "\r\n"), "\t")
		for i, id := range fields {
			if i < len(names) && id != "" {
				members[names[i]] = append(members[names[i]], id)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cell sets: %w", err)
	}
	return buildMatrix(names, members)
}

// buildMatrix assembles the membership matrix over the union of member ids,
// in first-seen order.
func buildMatrix(names []string, members map[string][]string) (*lineage.CellSetMatrix, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("no cell sets defined")
	}

	var ids []string
	idIndex := make(map[string]int)
	for _, name := range names {
		for _, id := range members[name] {
			if _, ok := idIndex[id]; !ok {
				idIndex[id] = len(ids)
				ids = append(ids, id)
			}
		}
	}

	member := make([][]bool, len(ids))
	for i := range member {
		member[i] = make([]bool, len(names))
	}
	for s, name := range names {
		for _, id := range members[name] {
			member[idIndex[id]][s] = true
		}
	}

	return &lineage.CellSetMatrix{IDs: ids, Names: names, Member: member}, nil
}
