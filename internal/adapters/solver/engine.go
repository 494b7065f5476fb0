// Package solver adapts the external blind pattern-matching engine to
// the domain.BlindSolver port.
package solver

import "context"

// Parity constraint values for an engine request.
const (
	// ParityUnknown leaves the handedness unconstrained.
	ParityUnknown = -1

	// ParityNormal constrains the search to an unflipped image.
	ParityNormal = 0

	// ParityFlipped constrains the search to a mirror-flipped image.
	ParityFlipped = 1
)

// EngineRequest is the flattened request handed to the engine: star
// positions and fluxes plus optional search constraints.
type EngineRequest struct {
	// X, Y, Flux are parallel slices of star data, brightest first.
	X    []float64
	Y    []float64
	Flux []float64

	// Width, Height is the image size in pixels.
	Width  int
	Height int

	// MaxStars caps how many stars the engine considers.
	MaxStars int

	// HasCenter constrains the search to RadiusDeg around the center.
	HasCenter bool
	RACenter  float64
	DecCenter float64
	RadiusDeg float64

	// HasScaleRange constrains the pixel scale in arcsec per pixel.
	HasScaleRange bool
	ScaleLoArcsec float64
	ScaleHiArcsec float64

	// Parity is one of the Parity constants.
	Parity int
}

// EngineSolution is a solved linear WCS with the engine's quality
// statistics.
type EngineSolution struct {
	CrpixX float64
	CrpixY float64
	RA     float64
	Dec    float64
	CD     [2][2]float64

	Matches int
	LogOdds float64
}

// Engine is the resource handle over the native quad-matching library:
// indexes are registered up front, Solve runs within the context
// deadline, and Close releases the loaded indexes.
//
// Solve returns (nil, nil) for a search that completed without finding
// a solution.
type Engine interface {
	// RegisterIndex loads a pre-built reference index partition.
	RegisterIndex(path string) error

	// Solve searches for a WCS matching the request. Implementations
	// must honor ctx cancellation and abort at its deadline.
	Solve(ctx context.Context, req EngineRequest) (*EngineSolution, error)

	// Close releases the engine and its indexes.
	Close() error
}
