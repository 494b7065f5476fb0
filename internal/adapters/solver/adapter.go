package solver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/observatory-dev/astrofit/internal/domain"
	"github.com/observatory-dev/astrofit/internal/wcs"
)

// Logger defines the logging interface required by the adapter.
type Logger interface {
	Debug(ctx context.Context, msg string, fields map[string]any)
	Warn(ctx context.Context, msg string, fields map[string]any)
}

// defaultSearchRadiusScale scales the search radius derived from the
// pixel scale and image diagonal.
const defaultSearchRadiusScale = 2.0

// defaultScaleUncertainty bounds the pixel-scale search range when the
// request does not specify one.
const defaultScaleUncertainty = 1.1

// Adapter translates domain solve requests into engine requests and
// engine solutions back into domain results. It implements
// domain.BlindSolver.
type Adapter struct {
	engine     Engine
	indexPaths []string
	registered bool
	log        Logger
}

// New creates an Adapter over the given engine and index partitions.
// Indexes are registered lazily on the first solve.
func New(engine Engine, indexPaths []string, log Logger) *Adapter {
	return &Adapter{
		engine:     engine,
		indexPaths: indexPaths,
		log:        log,
	}
}

// Solve validates the request, registers the configured indexes, and
// runs the engine within the request's CPU budget. Budget expiry is a
// not-solved outcome, never a hang or an error.
func (a *Adapter) Solve(ctx context.Context, req domain.SolveRequest) (domain.SolveResult, error) {
	if err := req.Validate(); err != nil {
		return domain.SolveResult{}, err
	}
	ereq, err := buildEngineRequest(req)
	if err != nil {
		return domain.SolveResult{}, err
	}

	if !a.registered {
		for _, path := range a.indexPaths {
			if regErr := a.engine.RegisterIndex(path); regErr != nil {
				return domain.SolveResult{}, fmt.Errorf("failed to register index %s: %w", path, regErr)
			}
		}
		a.registered = true
		a.log.Debug(ctx, "registered solver indexes", map[string]any{
			"indexes": len(a.indexPaths),
		})
	}

	if req.CPULimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.CPULimit)
		defer cancel()
	}

	sol, err := a.engine.Solve(ctx, ereq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			a.log.Warn(ctx, "blind solve budget exhausted", map[string]any{
				"cpu_limit": req.CPULimit.String(),
			})
			return domain.SolveResult{Solved: false}, nil
		}
		return domain.SolveResult{}, fmt.Errorf("engine solve: %w", err)
	}
	if sol == nil {
		return domain.SolveResult{Solved: false}, nil
	}

	solved := wcs.NewTanWcs(sol.CrpixX, sol.CrpixY, domain.SkyCoord{RA: sol.RA, Dec: sol.Dec}, sol.CD)
	return domain.SolveResult{
		Solved: true,
		Wcs:    solved,
		Stats:  domain.SolveStats{Matches: sol.Matches, LogOdds: sol.LogOdds},
	}, nil
}

// Close releases the engine and its loaded indexes.
func (a *Adapter) Close() error {
	return a.engine.Close()
}

// buildEngineRequest flattens a validated domain request into the
// engine contract, selecting the brightest MaxStars sources and
// resolving the search constraints.
func buildEngineRequest(req domain.SolveRequest) (EngineRequest, error) {
	stars := make([]*domain.Source, len(req.Sources))
	copy(stars, req.Sources)
	sort.Slice(stars, func(i, j int) bool { return stars[i].Flux > stars[j].Flux })
	if req.MaxStars > 0 && len(stars) > req.MaxStars {
		stars = stars[:req.MaxStars]
	}

	ereq := EngineRequest{
		X:        make([]float64, len(stars)),
		Y:        make([]float64, len(stars)),
		Flux:     make([]float64, len(stars)),
		Width:    req.Width,
		Height:   req.Height,
		MaxStars: req.MaxStars,
		Parity:   ParityUnknown,
	}
	for i, s := range stars {
		ereq.X[i] = s.X
		ereq.Y[i] = s.Y
		ereq.Flux[i] = s.Flux
	}

	if req.UseCenter && req.Center != nil {
		radius := req.SearchRadius
		if radius == 0 {
			if req.PixelScale == 0 {
				return EngineRequest{}, fmt.Errorf("%w: center hint RA=%.4f Dec=%.4f",
					domain.ErrSearchRadiusUnresolvable, req.Center.RA, req.Center.Dec)
			}
			scaleFactor := req.SearchRadiusScale
			if scaleFactor <= 0 {
				scaleFactor = defaultSearchRadiusScale
			}
			diag := math.Hypot(float64(req.Width), float64(req.Height))
			radius = domain.Angle(float64(req.PixelScale) * diag / 2 * scaleFactor)
		}
		ereq.HasCenter = true
		ereq.RACenter = req.Center.RA
		ereq.DecCenter = req.Center.Dec
		ereq.RadiusDeg = radius.AsDegrees()
	}

	if req.UsePixelScale && req.PixelScale != 0 {
		unc := req.ScaleUncertainty
		if unc <= 1 {
			unc = defaultScaleUncertainty
		}
		scaleArcsec := req.PixelScale.AsArcseconds()
		ereq.HasScaleRange = true
		ereq.ScaleLoArcsec = scaleArcsec / unc
		ereq.ScaleHiArcsec = scaleArcsec * unc
	}

	if req.UseParity && req.Parity != nil {
		if *req.Parity {
			ereq.Parity = ParityFlipped
		} else {
			ereq.Parity = ParityNormal
		}
	}
	return ereq, nil
}
