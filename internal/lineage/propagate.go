package lineage

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// SampleStore can replay and record the cell indices drawn at each
// (timepoint, cell set). Implementations must be safe for concurrent use;
// the forward and backward walks save samples in parallel.
type SampleStore interface {
	// Load returns previously recorded indices for the timepoint and cell
	// set, and whether any were found.
	Load(t float64, cellSet string) ([]int, bool)
	// Save records the indices drawn for the timepoint and cell set.
	Save(t float64, cellSet string, indices []int) error
}

// Config carries the inputs of a lineage computation. Chain, CellSets and
// Maps are required; the rest is optional.
type Config struct {
	// Chain is the ordered transport map chain.
	Chain Chain
	// Maps loads the transport map for a chain index. Callers own the
	// source and any cache behind it.
	Maps MapSource
	// CellSets is the membership matrix at the anchor timepoint.
	CellSets *CellSetMatrix
	// Measurements, if present, makes the engine emit one box trace per
	// measurement column at every visited timepoint.
	Measurements *Dataset
	// GeneSetScores, if present, makes the engine emit one violin trace per
	// score column at every visited timepoint.
	GeneSetScores *Dataset
	// Samples, if present, records the indices drawn at each step.
	Samples SampleStore
	// Replay bypasses the internal weighted draw wherever Samples has
	// recorded indices for a (timepoint, cell set).
	Replay bool
	// Seed seeds the sampling RNG. Zero means seed from the clock. The two
	// directional walks use Seed and Seed+1 respectively so they can run
	// concurrently with independent streams.
	Seed int64
	// Logger, if present, receives per-step progress at debug level.
	Logger *slog.Logger
}

// Result is the full output of a lineage computation: rendering-ready traces
// plus every propagated distribution for callers wanting the raw vectors.
type Result struct {
	Traces        []Trace        `json:"traces"`
	Distributions []Distribution `json:"distributions"`
}

// walk is an immutable descriptor of one directional pass over the chain:
// the chain indices to visit, in visit order, moving away from the anchor.
type walk struct {
	dir     Direction
	indices []int
}

// walkOutput collects one walk's results; walks never share writable state.
type walkOutput struct {
	traces []Trace
	dists  []Distribution
	err    error
}

// Compute propagates every cell set's probability vector outward from the
// anchor timepoint in both temporal directions, sampling each resulting
// distribution by its perplexity and packaging the sampled auxiliary values
// as traces. The anchor must appear as T1 or T2 of some chain entry;
// otherwise Compute fails with a TimepointError and produces no output.
func Compute(cfg Config, anchor float64) (*Result, error) {
	if len(cfg.Chain) == 0 {
		return nil, &TimepointError{Time: anchor}
	}
	if cfg.CellSets == nil || len(cfg.CellSets.Names) == 0 {
		return nil, ErrNoCellSets
	}

	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	backIdx := cfg.Chain.BackwardIndex(anchor)
	fwdIdx := cfg.Chain.ForwardIndex(anchor)
	if backIdx < 0 && fwdIdx < 0 {
		return nil, &TimepointError{Time: anchor}
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	var walks []walk
	if backIdx >= 0 {
		indices := make([]int, 0, backIdx+1)
		for i := backIdx; i >= 0; i-- {
			indices = append(indices, i)
		}
		walks = append(walks, walk{dir: DirectionBackward, indices: indices})
	}
	if fwdIdx >= 0 {
		indices := make([]int, 0, len(cfg.Chain)-fwdIdx)
		for i := fwdIdx; i < len(cfg.Chain); i++ {
			indices = append(indices, i)
		}
		walks = append(walks, walk{dir: DirectionForward, indices: indices})
	}

	result := &Result{}
	anchorTraces, err := emitAnchorTraces(cfg, anchor, walks[0])
	if err != nil {
		return nil, err
	}
	result.Traces = append(result.Traces, anchorTraces...)

	// The walks are independent: each owns its vectors and output slices,
	// and results merge by concatenation (ordering between directions is
	// not meaningful).
	outputs := make([]walkOutput, len(walks))
	var wg sync.WaitGroup
	for i, w := range walks {
		wg.Add(1)
		go func(i int, w walk) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed + int64(i)))
			outputs[i] = runWalk(cfg, w, rng, log)
		}(i, w)
	}
	wg.Wait()

	for _, out := range outputs {
		if out.err != nil {
			return nil, out.err
		}
		result.Traces = append(result.Traces, out.traces...)
		result.Distributions = append(result.Distributions, out.dists...)
	}
	return result, nil
}

// emitAnchorTraces packages the auxiliary values of each surviving set's own
// member cells at the anchor timepoint, marked with the anchor color. The
// surviving sets are determined against the first walk's adjacent map basis.
// Nothing is emitted in replay mode: the anchor draw was already recorded.
func emitAnchorTraces(cfg Config, anchor float64, first walk) ([]Trace, error) {
	tm, err := cfg.Maps.Map(first.indices[0])
	if err != nil {
		return nil, fmt.Errorf("loading transport map %d: %w", first.indices[0], err)
	}
	basis := tm.RowIDs
	if first.dir == DirectionBackward {
		basis = tm.ColIDs
	}
	_, names := initVectors(cfg.CellSets, basis)
	if len(names) == 0 {
		return nil, ErrNoCellSets
	}
	if cfg.Replay {
		return nil, nil
	}

	byName := make(map[string]int, len(cfg.CellSets.Names))
	for i, n := range cfg.CellSets.Names {
		byName[n] = i
	}

	var traces []Trace
	for _, name := range names {
		memberIDs := cfg.CellSets.SetIDs(byName[name])
		meas := Align(cfg.Measurements, memberIDs)
		scores := Align(cfg.GeneSetScores, memberIDs)
		traces = emitTraces(traces, anchor, name, DirectionAnchor, nil, meas, scores)
	}
	return traces, nil
}

// initVectors builds one indicator vector per cell set over the given map
// basis, dropping sets with no members there. Dropped sets are never
// reconsidered for the rest of the walk.
func initVectors(cs *CellSetMatrix, basis []string) ([][]float64, []string) {
	member := make(map[string]int, len(cs.IDs))
	for i, id := range cs.IDs {
		member[id] = i
	}

	var vectors [][]float64
	var names []string
	for s, name := range cs.Names {
		v := make([]float64, len(basis))
		hit := false
		for i, id := range basis {
			if row, ok := member[id]; ok && cs.Member[row][s] {
				v[i] = 1
				hit = true
			}
		}
		if hit {
			vectors = append(vectors, v)
			names = append(names, name)
		}
	}
	return vectors, names
}

func runWalk(cfg Config, w walk, rng *rand.Rand, log *slog.Logger) walkOutput {
	first, err := cfg.Maps.Map(w.indices[0])
	if err != nil {
		return walkOutput{err: fmt.Errorf("loading transport map %d: %w", w.indices[0], err)}
	}

	backward := w.dir == DirectionBackward
	basis := first.RowIDs
	if backward {
		basis = first.ColIDs
	}
	vectors, names := initVectors(cfg.CellSets, basis)
	if len(vectors) == 0 {
		return walkOutput{err: ErrNoCellSets}
	}
	log.Debug("initialized cell sets", "direction", w.dir, "count", len(vectors))

	var out walkOutput
	for _, idx := range w.indices {
		tm, err := cfg.Maps.Map(idx)
		if err != nil {
			return walkOutput{err: fmt.Errorf("loading transport map %d: %w", idx, err)}
		}

		t := tm.T2
		ids := tm.ColIDs
		if backward {
			t = tm.T1
			ids = tm.RowIDs
		}
		meas := Align(cfg.Measurements, ids)
		scores := Align(cfg.GeneSetScores, ids)

		for si, v := range vectors {
			var next []float64
			if backward {
				next = tm.M.MulVec(v)
			} else {
				next = tm.M.VecMul(v)
			}

			total := 0.0
			for _, p := range next {
				total += p
			}
			d := Distribution{CellSet: names[si], Time: t, Direction: w.dir}
			if total == 0 {
				// The set mapped to a zero-probability region. Keep the
				// zero vector rather than dividing into NaN; it stays zero
				// under every later map, so the set never reappears within
				// this walk.
				d.V = next
				d.Vanished = true
				vectors[si] = next
				out.dists = append(out.dists, d)
				log.Debug("cell set vanished", "cell_set", names[si], "t", t)
				continue
			}
			for i := range next {
				next[i] /= total
			}

			entropy := Perplexity(next)
			k := SampleSize(entropy)

			var sampled []int
			if cfg.Replay && cfg.Samples != nil {
				if prior, ok := cfg.Samples.Load(t, names[si]); ok {
					sampled = prior
				}
			}
			if sampled == nil {
				sampled = WeightedSample(rng, next, k)
				if cfg.Samples != nil {
					if err := cfg.Samples.Save(t, names[si], sampled); err != nil {
						return walkOutput{err: fmt.Errorf("saving sample at t=%g: %w", t, err)}
					}
				}
			}
			log.Debug("sampled cells", "cell_set", names[si], "t", t, "n", len(sampled), "entropy", entropy)

			d.V = next
			d.Entropy = entropy
			d.SampledIndices = sampled
			vectors[si] = next
			out.dists = append(out.dists, d)
			out.traces = emitTraces(out.traces, t, names[si], w.dir, sampled, meas, scores)
		}
	}
	return out
}
