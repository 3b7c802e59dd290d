package lineage

import (
	"bytes"
	"math"
	"strconv"
)

// Direction of a propagation walk relative to the anchor timepoint.
type Direction string

const (
	DirectionBackward Direction = "backward"
	DirectionForward  Direction = "forward"
	DirectionAnchor   Direction = "anchor"
)

// Fill colors for rendering, one per direction. The anchor color marks the
// raw indicator draw at the anchor timepoint as distinct from propagated
// steps.
const (
	colorBackward = "#2c7bb6"
	colorForward  = "#d7191c"
	colorAnchor   = "#ffffbf"
)

// FillColor returns the rendering color associated with the direction.
func (d Direction) FillColor() string {
	switch d {
	case DirectionBackward:
		return colorBackward
	case DirectionForward:
		return colorForward
	default:
		return colorAnchor
	}
}

// Values is a slice of sampled auxiliary values. NaN entries mark cells that
// were absent from the auxiliary table during alignment; they marshal to
// JSON null so downstream consumers see them as missing.
type Values []float64

// MarshalJSON writes NaN entries as null.
func (vs Values) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, v := range vs {
		if i > 0 {
			buf.WriteByte(',')
		}
		if math.IsNaN(v) {
			buf.WriteString("null")
		} else {
			buf.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		}
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// Trace kinds, matching the plot style the renderer uses for them.
const (
	TraceKindBox    = "box"    // measurement matrix columns
	TraceKindViolin = "violin" // gene-set score columns
)

// Trace is one rendering-ready distribution of auxiliary values: the sampled
// values of a single feature for one cell set at one timepoint. The emitter
// performs no aggregation; rendering is a downstream concern.
type Trace struct {
	CellSet   string    `json:"cell_set"`
	Feature   string    `json:"name"`
	Time      float64   `json:"t"`
	Kind      string    `json:"type"`
	Direction Direction `json:"direction"`
	FillColor string    `json:"fillcolor"`
	Y         Values    `json:"y"`
}

// Distribution is the raw propagated probability vector for one cell set at
// one timepoint, with its entropy and the cell indices drawn from it.
// Vanished marks a distribution whose total mass was zero before
// renormalization; it carries the zero vector and no sampled indices.
type Distribution struct {
	CellSet        string    `json:"cell_set"`
	Time           float64   `json:"t"`
	Direction      Direction `json:"direction"`
	V              []float64 `json:"v"`
	Entropy        float64   `json:"entropy"`
	SampledIndices []int     `json:"sampled_indices,omitempty"`
	Vanished       bool      `json:"vanished,omitempty"`
}

// emitTraces appends one trace per measurement column and one per gene-set
// score column, built from the aligned tables at the sampled indices. A nil
// indices slice selects every row (the anchor's direct indicator draw).
func emitTraces(dst []Trace, t float64, cellSet string, dir Direction, indices []int, measurements, scores *Dataset) []Trace {
	dst = appendFeatureTraces(dst, t, cellSet, dir, TraceKindBox, indices, measurements)
	dst = appendFeatureTraces(dst, t, cellSet, dir, TraceKindViolin, indices, scores)
	return dst
}

func appendFeatureTraces(dst []Trace, t float64, cellSet string, dir Direction, kind string, indices []int, ds *Dataset) []Trace {
	if ds == nil {
		return dst
	}
	for j, feature := range ds.Columns {
		var y Values
		if indices == nil {
			y = make(Values, len(ds.X))
			for i, row := range ds.X {
				y[i] = row[j]
			}
		} else {
			y = make(Values, len(indices))
			for i, idx := range indices {
				y[i] = ds.X[idx][j]
			}
		}
		dst = append(dst, Trace{
			CellSet:   cellSet,
			Feature:   feature,
			Time:      t,
			Kind:      kind,
			Direction: dir,
			FillColor: dir.FillColor(),
			Y:         y,
		})
	}
	return dst
}
