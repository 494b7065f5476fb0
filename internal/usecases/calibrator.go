// Package usecases contains the application business logic.
// This package orchestrates domain entities and interfaces to fulfill
// the astrometric calibration flow.
package usecases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/observatory-dev/astrofit/internal/domain"
)

// Logger defines the logging interface required by the calibrator.
// This abstracts the logger dependency to avoid coupling to a specific
// implementation.
type Logger interface {
	Info(ctx context.Context, msg string, fields map[string]any)
	Debug(ctx context.Context, msg string, fields map[string]any)
	Warn(ctx context.Context, msg string, fields map[string]any)
	Error(ctx context.Context, msg string, err error, fields map[string]any)
}

// sipRefineMaxIter caps the fit-then-rematch distortion refinement loop.
const sipRefineMaxIter = 10

// Config holds the calibration policy.
type Config struct {
	// ForceKnownWcs trusts the supplied initial WCS: sources are matched
	// once under it and no fitting is done.
	ForceKnownWcs bool

	// MaxIter bounds the match-and-fit loop.
	MaxIter int

	// MatchDistance is the initial maximum source/reference separation.
	// Iterations tighten it; it never increases.
	MatchDistance domain.Angle

	// CleaningSigma is the outlier-rejection threshold in standard
	// deviations of the separation distribution.
	CleaningSigma float64

	// SipOrder is the distortion polynomial order; values below 2 fit a
	// purely linear WCS.
	SipOrder int

	// PixelMargin extends the image bounds when trimming the reference
	// catalog and sizing the region query.
	PixelMargin float64

	// DoTrimSources drops sources outside the image bounds before
	// calibrating.
	DoTrimSources bool

	// CenterHint, PixelScaleHint, and ParityHint constrain a blind
	// solve. Each is honored only when its Use toggle is set; setting a
	// hint while disabling its toggle is a configuration error.
	CenterHint     *domain.SkyCoord
	UseRaDecCenter bool

	PixelScaleHint domain.Angle
	UsePixelScale  bool

	ParityHint *bool
	UseParity  bool

	// SearchRadius overrides the derived blind-solve search radius.
	SearchRadius domain.Angle

	// SearchRadiusScale scales the search radius derived from the pixel
	// scale and image diagonal.
	SearchRadiusScale float64

	// ScaleUncertainty bounds the blind-solve pixel-scale range as a
	// multiplicative factor around PixelScaleHint.
	ScaleUncertainty float64

	// MaxStars caps the sources sent to the blind engine.
	MaxStars int

	// CPULimit bounds the blind engine's solve time.
	CPULimit time.Duration
}

// DefaultConfig returns the default calibration policy.
func DefaultConfig() Config {
	return Config{
		MaxIter:           3,
		MatchDistance:     domain.AngleFromArcsec(3),
		CleaningSigma:     3,
		SipOrder:          4,
		PixelMargin:       50,
		UseRaDecCenter:    true,
		UsePixelScale:     true,
		UseParity:         true,
		SearchRadiusScale: 2,
		ScaleUncertainty:  1.1,
		MaxStars:          50,
		CPULimit:          60 * time.Second,
	}
}

// AstrometryCalibrator determines the WCS of an image by iteratively
// matching detected sources to a reference catalog and fitting a
// distortion-corrected tangent-plane solution. It implements
// domain.Calibrator.
type AstrometryCalibrator struct {
	loader  domain.ReferenceLoader
	solver  domain.BlindSolver
	matcher domain.Matcher
	fitter  domain.WcsFitter
	cfg     Config
	log     Logger
}

// NewCalibrator creates an AstrometryCalibrator with the given
// dependencies. All dependencies are injected to support testing.
func NewCalibrator(
	loader domain.ReferenceLoader,
	solver domain.BlindSolver,
	matcher domain.Matcher,
	fitter domain.WcsFitter,
	cfg Config,
	log Logger,
) *AstrometryCalibrator {
	return &AstrometryCalibrator{
		loader:  loader,
		solver:  solver,
		matcher: matcher,
		fitter:  fitter,
		cfg:     cfg,
		log:     log,
	}
}

// iterationResult is the state carried between match-and-fit
// iterations.
type iterationResult struct {
	wcs     domain.Wcs
	matches *domain.MatchList
	scatter domain.Angle
}

// keepPrevious is the regression guard: it reports whether the previous
// iteration should be kept instead of the next one. The next iteration
// regresses when it has strictly fewer matches, or an equal number with
// worse-or-equal scatter.
func keepPrevious(prev, next *iterationResult) bool {
	if next.matches.Len() < prev.matches.Len() {
		return true
	}
	return next.matches.Len() == prev.matches.Len() && next.scatter >= prev.scatter
}

// Calibrate runs the full calibration for one image.
//
// Inputs are validated first (image size, hint/toggle contradictions).
// Without an initial WCS a blind solve provides one; the reference
// catalog for the field is then loaded, projected, and trimmed, and the
// match-and-fit loop runs until the regression guard fires or MaxIter
// is exhausted. With SipOrder >= 2 a fit-then-rematch refinement pass
// follows. The tagged domain errors report every failure; the process
// is never terminated from here.
func (c *AstrometryCalibrator) Calibrate(ctx context.Context, in domain.CalibrationInput) (*domain.CalibrationResult, error) {
	if in.Width <= 0 || in.Height <= 0 {
		return nil, fmt.Errorf("%w: got %dx%d", domain.ErrImageSizeRequired, in.Width, in.Height)
	}
	if c.cfg.MaxIter < 1 {
		return nil, fmt.Errorf("%w: got %d", domain.ErrInvalidIterations, c.cfg.MaxIter)
	}
	req := c.buildSolveRequest(in)
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid calibration configuration: %w", err)
	}

	bbox := domain.NewBBox(float64(in.Width), float64(in.Height))
	sources := in.Sources
	if c.cfg.DoTrimSources {
		trimmed := domain.TrimSources(sources, bbox)
		c.log.Debug(ctx, "trimmed sources to image bounds", map[string]any{
			"kept":  len(trimmed),
			"total": len(sources),
		})
		sources = trimmed
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: no usable sources", domain.ErrNoMatches)
	}

	curWcs := in.InitWcs
	var solveStats *domain.SolveStats
	if curWcs == nil {
		solved, stats, err := c.blindSolve(ctx, req, sources)
		if err != nil {
			return nil, err
		}
		curWcs = solved
		solveStats = stats
	}
	initWcs := curWcs

	refs, err := c.loadReference(ctx, curWcs, bbox, in.FilterName)
	if err != nil {
		return nil, err
	}

	res, err := c.matchAndFit(ctx, sources, refs, curWcs, bbox)
	if err != nil {
		return nil, err
	}

	if !c.cfg.ForceKnownWcs && c.cfg.SipOrder >= 2 {
		res = c.refineSipTerms(ctx, sources, refs, bbox, res)
	}

	cx, cy := bbox.Center()
	ctr := res.wcs.PixelToSky(cx, cy)
	ll := res.wcs.PixelToSky(bbox.MinX, bbox.MinY)
	result := &domain.CalibrationResult{
		Wcs:          res.wcs,
		InitWcs:      initWcs,
		Matches:      res.matches,
		ScatterOnSky: res.scatter,
		RefCat:       refs,
		SolveStats:   solveStats,
		Metadata: domain.MatchMetadata{
			RA:      ctr.RA,
			Dec:     ctr.Dec,
			Radius:  ctr.Separation(ll).AsDegrees(),
			Version: domain.MatchMetadataVersion,
			Filter:  in.FilterName,
		},
	}

	c.log.Info(ctx, "calibration complete", map[string]any{
		"matches":        result.Matches.Len(),
		"scatter_arcsec": result.ScatterOnSky.AsArcseconds(),
		"field_ra":       result.Metadata.RA,
		"field_dec":      result.Metadata.Dec,
		"field_radius":   result.Metadata.Radius,
	})
	return result, nil
}

// buildSolveRequest assembles the blind-engine request from the input
// and the configured hints.
func (c *AstrometryCalibrator) buildSolveRequest(in domain.CalibrationInput) domain.SolveRequest {
	return domain.SolveRequest{
		Sources:           in.Sources,
		Width:             in.Width,
		Height:            in.Height,
		Center:            c.cfg.CenterHint,
		UseCenter:         c.cfg.UseRaDecCenter,
		SearchRadius:      c.cfg.SearchRadius,
		PixelScale:        c.cfg.PixelScaleHint,
		UsePixelScale:     c.cfg.UsePixelScale,
		ScaleUncertainty:  c.cfg.ScaleUncertainty,
		Parity:            c.cfg.ParityHint,
		UseParity:         c.cfg.UseParity,
		SearchRadiusScale: c.cfg.SearchRadiusScale,
		MaxStars:          c.cfg.MaxStars,
		CPULimit:          c.cfg.CPULimit,
	}
}

// blindSolve runs the external pattern-matching engine to obtain an
// initial WCS when none was supplied.
func (c *AstrometryCalibrator) blindSolve(
	ctx context.Context,
	req domain.SolveRequest,
	sources []*domain.Source,
) (domain.Wcs, *domain.SolveStats, error) {
	if c.solver == nil {
		return nil, nil, fmt.Errorf("%w: no initial WCS and no solver configured", domain.ErrEngineUnavailable)
	}
	req.Sources = sources

	c.log.Info(ctx, "blind solving for an initial WCS", map[string]any{
		"sources":   len(sources),
		"max_stars": req.MaxStars,
	})
	res, err := c.solver.Solve(ctx, req)
	if err != nil {
		return nil, nil, fmt.Errorf("blind solve failed: %w", err)
	}
	if !res.Solved {
		return nil, nil, fmt.Errorf("%w: searched %d sources", domain.ErrNotSolved, len(sources))
	}
	c.log.Info(ctx, "blind solve succeeded", map[string]any{
		"engine_matches": res.Stats.Matches,
		"log_odds":       res.Stats.LogOdds,
	})
	stats := res.Stats
	return res.Wcs, &stats, nil
}

// loadReference queries the catalog region covering the image under w,
// projects the objects to pixels, and trims to the bounds plus margin.
func (c *AstrometryCalibrator) loadReference(
	ctx context.Context,
	w domain.Wcs,
	bbox domain.BBox,
	filterName string,
) ([]*domain.ReferenceObject, error) {
	cx, cy := bbox.Center()
	center := w.PixelToSky(cx, cy)
	radius := domain.Angle(float64(w.PixelScale()) * (bbox.Diagonal()/2 + c.cfg.PixelMargin))

	refs, err := c.loader.LoadRegion(ctx, center, radius, filterName)
	if err != nil {
		return nil, fmt.Errorf("failed to load reference objects: %w", err)
	}
	if len(refs) == 0 {
		return nil, fmt.Errorf("%w: center RA=%.4f Dec=%.4f radius=%.4f deg",
			domain.ErrNoReferenceObjects, center.RA, center.Dec, radius.AsDegrees())
	}

	c.loader.ProjectToPixels(refs, w)
	trimmed := domain.TrimToBBox(refs, bbox, c.cfg.PixelMargin)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: %d loaded, none within the image bounds",
			domain.ErrNoReferenceObjects, len(refs))
	}

	unique := make(map[int64]struct{}, len(trimmed))
	for _, r := range trimmed {
		unique[r.ID] = struct{}{}
	}
	c.log.Debug(ctx, "loaded reference objects", map[string]any{
		"loaded":     len(refs),
		"in_bounds":  len(trimmed),
		"unique_ids": len(unique),
	})
	return trimmed, nil
}

// matchAndFit runs the bounded match-and-fit loop under the regression
// guard, tightening the match tolerance as the solution improves.
func (c *AstrometryCalibrator) matchAndFit(
	ctx context.Context,
	sources []*domain.Source,
	refs []*domain.ReferenceObject,
	curWcs domain.Wcs,
	bbox domain.BBox,
) (*iterationResult, error) {
	var res *iterationResult
	tol := c.cfg.MatchDistance

	for i := 0; i < c.cfg.MaxIter; i++ {
		ml, err := c.matcher.Match(ctx, sources, refs, curWcs, tol, c.cfg.CleaningSigma)
		if err != nil {
			return nil, fmt.Errorf("match iteration %d: %w", i, err)
		}

		if c.cfg.ForceKnownWcs {
			// Trust the supplied WCS: match once, do not refit.
			c.log.Info(ctx, "matched under known WCS", map[string]any{
				"matches": ml.Len(),
			})
			return &iterationResult{wcs: curWcs, matches: ml, scatter: ml.MedianDistance}, nil
		}

		fitRes, err := c.fitter.FitWcs(ml.Matches, curWcs, bbox, c.cfg.SipOrder)
		if err != nil {
			return nil, fmt.Errorf("fit iteration %d: %w", i, err)
		}
		next := &iterationResult{wcs: fitRes.Wcs, matches: ml, scatter: fitRes.ScatterOnSky}

		c.log.Info(ctx, "fit WCS iteration", map[string]any{
			"iteration":      i,
			"matches":        ml.Len(),
			"scatter_arcsec": next.scatter.AsArcseconds(),
		})

		if res != nil && keepPrevious(res, next) {
			c.log.Info(ctx, "keeping previous iteration", map[string]any{
				"prev_matches":   res.matches.Len(),
				"next_matches":   next.matches.Len(),
				"prev_scatter":   res.scatter.AsArcseconds(),
				"next_scatter":   next.scatter.AsArcseconds(),
				"last_iteration": i,
			})
			return res, nil
		}

		res = next
		curWcs = next.wcs

		newTol := ml.MeanDistance + 2*ml.StdDevDistance
		if newTol < tol {
			tol = newTol
		}
		c.log.Debug(ctx, "tightened match tolerance", map[string]any{
			"tolerance_arcsec": tol.AsArcseconds(),
			"mean_arcsec":      ml.MeanDistance.AsArcseconds(),
			"std_dev_arcsec":   ml.StdDevDistance.AsArcseconds(),
		})
	}
	return res, nil
}

// refineSipTerms iteratively refits the distortion terms and rematches
// under each improved WCS, keeping an iteration only while the match
// count strictly increases.
func (c *AstrometryCalibrator) refineSipTerms(
	ctx context.Context,
	sources []*domain.Source,
	refs []*domain.ReferenceObject,
	bbox domain.BBox,
	res *iterationResult,
) *iterationResult {
	for i := 0; i < sipRefineMaxIter; i++ {
		fitRes, err := c.fitter.FitWcs(res.matches.Matches, res.wcs, bbox, c.cfg.SipOrder)
		if err != nil {
			c.log.Warn(ctx, "failed to refine distortion terms", map[string]any{
				"iteration": i,
				"error":     err.Error(),
			})
			return res
		}
		proposed, err := c.matcher.Match(ctx, sources, refs, fitRes.Wcs, c.cfg.MatchDistance, c.cfg.CleaningSigma)
		if err != nil {
			if !errors.Is(err, domain.ErrNoMatches) {
				c.log.Warn(ctx, "rematch under refined WCS failed", map[string]any{
					"iteration": i,
					"error":     err.Error(),
				})
			}
			return res
		}
		if proposed.Len() <= res.matches.Len() {
			c.log.Debug(ctx, "distortion refinement stopped increasing matches", map[string]any{
				"iteration":        i,
				"matches":          res.matches.Len(),
				"proposed_matches": proposed.Len(),
			})
			return res
		}
		res = &iterationResult{wcs: fitRes.Wcs, matches: proposed, scatter: fitRes.ScatterOnSky}
	}
	return res
}
