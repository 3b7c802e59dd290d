package lineage

import (
	"errors"
	"fmt"
)

// ErrNoCellSets is returned when no cell set has any member on the transport
// map basis adjacent to the anchor, so no distribution can be computed.
var ErrNoCellSets = errors.New("lineage: no cell sets with members at the anchor")

// TimepointError reports an anchor time that is absent from the chain.
type TimepointError struct {
	Time float64
}

func (e *TimepointError) Error() string {
	return fmt.Sprintf("lineage: transport map for time %g not found", e.Time)
}
