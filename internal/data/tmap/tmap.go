// Package tmap reads and writes transport map chains produced by an
// optimal-transport solver. Each map is a directory tmap_<t1>_<t2>/ holding
// metadata.json (times, shape, cell ids) and matrix.bin.zst (row-major
// float64, little-endian, zstd-compressed).
package tmap

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/celltrace/server/internal/lineage"
)

const (
	dirPrefix    = "tmap_"
	metadataFile = "metadata.json"
	matrixFile   = "matrix.bin.zst"
)

// Metadata describes one transport map without its matrix payload.
type Metadata struct {
	T1     float64  `json:"t1"`
	T2     float64  `json:"t2"`
	Rows   int      `json:"rows"`
	Cols   int      `json:"cols"`
	RowIDs []string `json:"row_ids"`
	ColIDs []string `json:"col_ids"`
}

// Entry is one discovered transport map: its directory and parsed metadata.
// The matrix itself is loaded lazily via Load.
type Entry struct {
	Path string
	Meta Metadata
}

// DiscoverChain lists the transport map directories under dir, parses their
// metadata and returns them sorted by T1. Matrices are not loaded.
func DiscoverChain(dir string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read transport map directory: %w", err)
	}

	var entries []Entry
	for _, de := range dirEntries {
		if !de.IsDir() || !strings.HasPrefix(de.Name(), dirPrefix) {
			continue
		}
		path := filepath.Join(dir, de.Name())
		meta, err := readMetadata(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", de.Name(), err)
		}
		if meta.T1 >= meta.T2 {
			return nil, fmt.Errorf("%s: t1 (%g) must precede t2 (%g)", de.Name(), meta.T1, meta.T2)
		}
		entries = append(entries, Entry{Path: path, Meta: *meta})
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no transport maps found in %s", dir)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Meta.T1 < entries[j].Meta.T1 })
	return entries, nil
}

// Chain projects the entries onto the engine's chain description.
func Chain(entries []Entry) lineage.Chain {
	chain := make(lineage.Chain, len(entries))
	for i, e := range entries {
		chain[i] = lineage.ChainEntry{T1: e.Meta.T1, T2: e.Meta.T2}
	}
	return chain
}

// Load reads the entry's matrix payload and returns the full transport map.
func Load(e Entry) (*lineage.TransportMap, error) {
	compressed, err := os.ReadFile(filepath.Join(e.Path, matrixFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read matrix: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer decoder.Close()

	raw, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress matrix: %w", err)
	}

	want := e.Meta.Rows * e.Meta.Cols * 8
	if len(raw) != want {
		return nil, fmt.Errorf("matrix payload is %d bytes, expected %d for %dx%d", len(raw), want, e.Meta.Rows, e.Meta.Cols)
	}
	if len(e.Meta.RowIDs) != e.Meta.Rows || len(e.Meta.ColIDs) != e.Meta.Cols {
		return nil, fmt.Errorf("id count does not match shape %dx%d", e.Meta.Rows, e.Meta.Cols)
	}

	m := lineage.NewMatrix(e.Meta.Rows, e.Meta.Cols)
	for i := range m.Data {
		m.Data[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
	}

	return &lineage.TransportMap{
		T1:     e.Meta.T1,
		T2:     e.Meta.T2,
		RowIDs: e.Meta.RowIDs,
		ColIDs: e.Meta.ColIDs,
		M:      m,
	}, nil
}

// Write stores tm under dir as tmap_<t1>_<t2>/, creating the directory.
// Used by preprocessing pipelines and by tests.
func Write(dir string, tm *lineage.TransportMap) error {
	name := fmt.Sprintf("%s%s_%s", dirPrefix, formatTime(tm.T1), formatTime(tm.T2))
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("failed to create map directory: %w", err)
	}

	meta := Metadata{
		T1:     tm.T1,
		T2:     tm.T2,
		Rows:   tm.M.Rows,
		Cols:   tm.M.Cols,
		RowIDs: tm.RowIDs,
		ColIDs: tm.ColIDs,
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, metadataFile), metaJSON, 0644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	raw := make([]byte, len(tm.M.Data)*8)
	for i, v := range tm.M.Data {
		binary.LittleEndian.PutUint64(raw[i*8:], math.Float64bits(v))
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	compressed := encoder.EncodeAll(raw, nil)
	encoder.Close()

	if err := os.WriteFile(filepath.Join(path, matrixFile), compressed, 0644); err != nil {
		return fmt.Errorf("failed to write matrix: %w", err)
	}
	return nil
}

func readMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(path, metadataFile))
	if err != nil {
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return &meta, nil
}

func formatTime(t float64) string {
	s := fmt.Sprintf("%g", t)
	return strings.ReplaceAll(s, "-", "m")
}
