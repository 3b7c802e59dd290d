// Package lineage computes ancestor/descendant distributions for cell sets
// by propagating probability vectors through a chain of transport maps.
package lineage

// Matrix is a dense row-major matrix of non-negative coupling weights.
type Matrix struct {
	Rows int
	Cols int
	Data []float64
}

// NewMatrix creates a zero matrix with the given shape.
func NewMatrix(rows, cols int) *Matrix {
	return &Matrix{
		Rows: rows,
		Cols: cols,
		Data: make([]float64, rows*cols),
	}
}

// At returns the entry at row i, column j.
func (m *Matrix) At(i, j int) float64 {
	return m.Data[i*m.Cols+j]
}

// Set assigns the entry at row i, column j.
func (m *Matrix) Set(i, j int, v float64) {
	m.Data[i*m.Cols+j] = v
}

// MulVec returns M·v. v is indexed over the column basis and the result
// over the row basis.
func (m *Matrix) MulVec(v []float64) []float64 {
	out := make([]float64, m.Rows)
	for i := 0; i < m.Rows; i++ {
		row := m.Data[i*m.Cols : (i+1)*m.Cols]
		s := 0.0
		for j, w := range row {
			s += w * v[j]
		}
		out[i] = s
	}
	return out
}

// VecMul returns v·M. v is indexed over the row basis and the result over
// the column basis.
func (m *Matrix) VecMul(v []float64) []float64 {
	out := make([]float64, m.Cols)
	for i := 0; i < m.Rows; i++ {
		if v[i] == 0 {
			continue
		}
		row := m.Data[i*m.Cols : (i+1)*m.Cols]
		for j, w := range row {
			out[j] += v[i] * w
		}
	}
	return out
}

// TransportMap is a coupling matrix between the cell populations at two
// consecutive timepoints. Rows are indexed by RowIDs (cells at T1), columns
// by ColIDs (cells at T2).
type TransportMap struct {
	T1     float64
	T2     float64
	RowIDs []string
	ColIDs []string
	M      *Matrix
}

// ChainEntry describes one transport map in a chain without its matrix,
// so a chain can be queried before any matrix is loaded.
type ChainEntry struct {
	T1 float64 `json:"t1"`
	T2 float64 `json:"t2"`
}

// Chain is an ordered sequence of transport maps between consecutive
// timepoints, sorted by time. Time lookups use exact equality: times come
// from the same parsed source as the chain itself.
type Chain []ChainEntry

// ForwardIndex returns the index of the map whose T1 equals t, or -1.
// A map at that index is the first step of a forward (descendant) walk.
func (c Chain) ForwardIndex(t float64) int {
	for i, e := range c {
		if e.T1 == t {
			return i
		}
	}
	return -1
}

// BackwardIndex returns the index of the map whose T2 equals t, or -1.
// A map at that index is the first step of a backward (ancestor) walk.
func (c Chain) BackwardIndex(t float64) int {
	for i, e := range c {
		if e.T2 == t {
			return i
		}
	}
	return -1
}

// Timepoints returns every distinct timepoint covered by the chain, in order.
func (c Chain) Timepoints() []float64 {
	if len(c) == 0 {
		return nil
	}
	out := make([]float64, 0, len(c)+1)
	out = append(out, c[0].T1)
	for _, e := range c {
		out = append(out, e.T2)
	}
	return out
}

// MapSource supplies the loaded transport map for a chain index. Callers own
// the source and any caching behind it; the engine never stores loaded maps
// itself. Implementations must be safe for concurrent use, since the forward
// and backward walks may request maps in parallel.
type MapSource interface {
	Map(index int) (*TransportMap, error)
}

// MapSourceFunc adapts a function to the MapSource interface.
type MapSourceFunc func(index int) (*TransportMap, error)

// Map calls f.
func (f MapSourceFunc) Map(index int) (*TransportMap, error) {
	return f(index)
}

// Dataset is a per-cell numeric table: one row per cell id, one column per
// feature (genes for a measurement matrix, set names for gene-set scores).
// Missing values are math.NaN.
type Dataset struct {
	IDs     []string
	Columns []string
	X       [][]float64
}

// CellSetMatrix is a boolean membership table over (cells × named sets) at
// a single anchor timepoint.
type CellSetMatrix struct {
	IDs    []string
	Names  []string
	Member [][]bool // shape len(IDs) × len(Names)
}

// SetIDs returns the ids of the cells belonging to the set at setIndex.
func (cs *CellSetMatrix) SetIDs(setIndex int) []string {
	var out []string
	for i, row := range cs.Member {
		if row[setIndex] {
			out = append(out, cs.IDs[i])
		}
	}
	return out
}
