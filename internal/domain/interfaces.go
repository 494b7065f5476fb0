// Package domain defines the core entities and interfaces for astrofit.
// This package contains no external dependencies and represents the
// innermost layer of the architecture.
package domain

import (
	"context"
	"errors"
	"fmt"
)

// Domain errors for calibration. All failures are recoverable at the
// calibrator boundary: the core never terminates the host process.
var (
	// ErrImageSizeRequired indicates the caller did not supply a positive
	// image width and height.
	ErrImageSizeRequired = errors.New("image size must be specified and positive")

	// ErrHintConflict indicates a hint value was supplied while its "use"
	// toggle was disabled. The two are mutually exclusive, not independent.
	ErrHintConflict = errors.New("hint value set while its use flag is disabled")

	// ErrSearchRadiusUnresolvable indicates a center hint was given but no
	// search radius could be derived (no explicit radius and no pixel scale).
	ErrSearchRadiusUnresolvable = errors.New("search radius is unresolvable: no explicit radius and no pixel scale to derive it from")

	// ErrInvalidIterations indicates a non-positive match-and-fit
	// iteration count, which would leave the calibration without a
	// single pass.
	ErrInvalidIterations = errors.New("match-and-fit iterations must be at least 1")

	// ErrNotSolved indicates the blind engine exhausted its budget or
	// search space without finding a candidate WCS.
	ErrNotSolved = errors.New("blind solve did not find a candidate WCS")

	// ErrEngineUnavailable indicates no blind-solve engine is linked into
	// this build.
	ErrEngineUnavailable = errors.New("blind-solve engine is not available in this build")

	// ErrNoReferenceObjects indicates the queried sky region contained no
	// reference objects.
	ErrNoReferenceObjects = errors.New("no reference objects in the queried region")

	// ErrNoMatches indicates zero pairs survived matching and cleaning.
	ErrNoMatches = errors.New("no matches between sources and reference objects")

	// ErrInsufficientMatches indicates too few matches for the requested
	// number of fit parameters.
	ErrInsufficientMatches = errors.New("too few matches for the requested fit")

	// ErrSingularFit indicates the least-squares system was numerically
	// singular.
	ErrSingularFit = errors.New("least-squares fit is singular")
)

// Wcs maps pixel coordinates to the sky and back. Implementations are
// immutable values: fitting produces a new Wcs rather than mutating one
// in place, and concurrent read access is safe.
type Wcs interface {
	// PixelToSky returns the sky position of a pixel.
	PixelToSky(x, y float64) SkyCoord

	// SkyToPixel returns the pixel position of a sky coordinate.
	SkyToPixel(c SkyCoord) (float64, float64)

	// PixelScale returns the angular size of a pixel.
	PixelScale() Angle

	// IsFlipped reports whether the pixel axes are mirrored relative to
	// the sky axes.
	IsFlipped() bool
}

// ReferenceLoader retrieves reference objects for a sky region and
// projects them into pixel space. Implementations must be safe for
// concurrent read-only use by independent calibrations.
type ReferenceLoader interface {
	// LoadRegion returns the reference objects within radius of center,
	// with magnitudes in the named band. Missing optional columns
	// default to absent values rather than failing. An empty region
	// returns an empty slice, not an error.
	LoadRegion(ctx context.Context, center SkyCoord, radius Angle, filterName string) ([]*ReferenceObject, error)

	// ProjectToPixels sets each object's pixel position under w.
	ProjectToPixels(objs []*ReferenceObject, w Wcs)
}

// BlindSolver determines a WCS by geometric pattern matching with no
// trusted prior, via the external quad-matching engine.
type BlindSolver interface {
	// Solve runs the engine within the request's budget. A search that
	// completes without a candidate returns Solved=false and no error;
	// contract violations in the request return an error wrapping
	// ErrHintConflict or ErrImageSizeRequired.
	Solve(ctx context.Context, req SolveRequest) (SolveResult, error)

	// Close releases the engine and its loaded indexes.
	Close() error
}

// Matcher pairs sources with reference objects under a candidate WCS.
type Matcher interface {
	// Match produces a one-to-one pairing within maxDist, then
	// iteratively removes outliers beyond cleaningSigma standard
	// deviations of the separation distribution. Zero survivors is
	// reported as an error wrapping ErrNoMatches.
	Match(ctx context.Context, sources []*Source, refs []*ReferenceObject, w Wcs, maxDist Angle, cleaningSigma float64) (*MatchList, error)
}

// WcsFitter fits an improved WCS from a match list.
type WcsFitter interface {
	// FitWcs least-squares fits a tangent-plane WCS, with polynomial
	// distortion terms up to sipOrder when sipOrder >= 2, and reports
	// the residual scatter. Fewer matches than free parameters is an
	// error wrapping ErrInsufficientMatches.
	FitWcs(matches []Match, initWcs Wcs, bbox BBox, sipOrder int) (*FitResult, error)
}

// Calibrator drives the full match-and-fit iteration for one image.
type Calibrator interface {
	// Calibrate determines the WCS for the input sources, returning the
	// fitted WCS, final matches, scatter, and field metadata.
	Calibrate(ctx context.Context, in CalibrationInput) (*CalibrationResult, error)
}

// Validate checks the request for contract violations: missing image
// size, or a hint supplied while its corresponding use toggle is
// disabled. It is called before any engine work.
func (r *SolveRequest) Validate() error {
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("%w: got %dx%d", ErrImageSizeRequired, r.Width, r.Height)
	}
	if r.Center != nil && !r.UseCenter {
		return fmt.Errorf("%w: center is set but UseCenter is false", ErrHintConflict)
	}
	if r.PixelScale != 0 && !r.UsePixelScale {
		return fmt.Errorf("%w: pixel scale is set but UsePixelScale is false", ErrHintConflict)
	}
	if r.Parity != nil && !r.UseParity {
		return fmt.Errorf("%w: parity is set but UseParity is false", ErrHintConflict)
	}
	return nil
}
