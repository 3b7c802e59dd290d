// Package render draws lineage trace records as distribution plots using
// fogleman/gg.
package render

import (
	"bytes"
	"image/color"
	"image/png"
	"math"
	"sort"
	"sync"

	"github.com/fogleman/gg"

	"github.com/celltrace/server/internal/lineage"
	"github.com/celltrace/server/pkg/quantile"
)

// Config contains renderer configuration.
type Config struct {
	Width  int
	Height int
}

// PlotRenderer renders trace records as per-timepoint box/violin glyphs on
// a time axis, one color per direction.
type PlotRenderer struct {
	config     Config
	bufferPool sync.Pool
}

// NewPlotRenderer creates a new plot renderer.
func NewPlotRenderer(cfg Config) *PlotRenderer {
	if cfg.Width <= 0 {
		cfg.Width = 800
	}
	if cfg.Height <= 0 {
		cfg.Height = 400
	}
	return &PlotRenderer{
		config: cfg,
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 32*1024))
			},
		},
	}
}

const (
	marginX    = 40.0
	marginY    = 20.0
	glyphWidth = 14.0
)

// RenderTraces renders the traces as one plot. NaN values mark cells missing
// from the auxiliary table and are skipped.
func (r *PlotRenderer) RenderTraces(traces []lineage.Trace) ([]byte, error) {
	dc := gg.NewContext(r.config.Width, r.config.Height)
	dc.SetColor(color.White)
	dc.Clear()

	summaries := make([]quantile.Summary, len(traces))
	tMin, tMax := math.Inf(1), math.Inf(-1)
	vMin, vMax := math.Inf(1), math.Inf(-1)
	for i, tr := range traces {
		s := quantile.Summarize(tr.Y)
		summaries[i] = s
		if s.N == 0 {
			continue
		}
		tMin = math.Min(tMin, tr.Time)
		tMax = math.Max(tMax, tr.Time)
		vMin = math.Min(vMin, s.Min)
		vMax = math.Max(vMax, s.Max)
	}
	if math.IsInf(tMin, 1) {
		// Nothing to draw.
		return r.encodeContext(dc)
	}
	if tMax == tMin {
		tMax = tMin + 1
	}
	if vMax == vMin {
		vMax = vMin + 1
	}

	w := float64(r.config.Width)
	h := float64(r.config.Height)
	xAt := func(t float64) float64 {
		return marginX + (t-tMin)/(tMax-tMin)*(w-2*marginX)
	}
	yAt := func(v float64) float64 {
		return h - marginY - (v-vMin)/(vMax-vMin)*(h-2*marginY)
	}

	// Axes
	dc.SetColor(color.Black)
	dc.SetLineWidth(1)
	dc.DrawLine(marginX, h-marginY, w-marginX, h-marginY)
	dc.DrawLine(marginX, marginY, marginX, h-marginY)
	dc.Stroke()

	// Stable draw order: by time, then cell set and feature.
	order := make([]int, len(traces))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ta, tb := traces[order[a]], traces[order[b]]
		if ta.Time != tb.Time {
			return ta.Time < tb.Time
		}
		if ta.CellSet != tb.CellSet {
			return ta.CellSet < tb.CellSet
		}
		return ta.Feature < tb.Feature
	})

	for _, i := range order {
		tr := traces[i]
		s := summaries[i]
		if s.N == 0 {
			continue
		}
		x := xAt(tr.Time)
		half := glyphWidth / 2
		if tr.Kind == lineage.TraceKindViolin {
			half = glyphWidth / 3
		}

		// Whiskers
		dc.SetColor(color.Black)
		dc.SetLineWidth(1)
		dc.DrawLine(x, yAt(s.Min), x, yAt(s.Q1))
		dc.DrawLine(x, yAt(s.Q3), x, yAt(s.Max))
		dc.Stroke()

		// Interquartile box in the direction color
		dc.SetHexColor(tr.FillColor)
		dc.DrawRectangle(x-half, yAt(s.Q3), 2*half, yAt(s.Q1)-yAt(s.Q3))
		dc.Fill()
		dc.SetColor(color.Black)
		dc.DrawRectangle(x-half, yAt(s.Q3), 2*half, yAt(s.Q1)-yAt(s.Q3))
		dc.Stroke()

		// Median line (box) or mean line (violin)
		mid := s.Median
		if tr.Kind == lineage.TraceKindViolin {
			mid = quantile.Mean(tr.Y)
		}
		dc.SetLineWidth(2)
		dc.DrawLine(x-half, yAt(mid), x+half, yAt(mid))
		dc.Stroke()
	}

	return r.encodeContext(dc)
}

func (r *PlotRenderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}
