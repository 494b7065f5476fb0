// Package fit implements least-squares fitting of tangent-plane WCS
// solutions, with optional SIP polynomial distortion terms.
package fit

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/observatory-dev/astrofit/internal/domain"
	"github.com/observatory-dev/astrofit/internal/wcs"
)

const (
	// crvalFoldMaxIter bounds the inner loop that folds the fitted
	// constant term into the reference sky position.
	crvalFoldMaxIter = 10

	// crvalFoldTol is the constant-term magnitude (radians) below which
	// the tangent point is considered settled.
	crvalFoldTol = 1e-13
)

// term is one monomial u^p v^q of the fit model.
type term struct {
	p int
	q int
}

// LeastSquaresFitter fits a TAN or TAN-SIP WCS to a match list by
// linear least squares over tangent-plane residuals. It implements
// domain.WcsFitter.
type LeastSquaresFitter struct{}

// New creates a LeastSquaresFitter.
func New() *LeastSquaresFitter {
	return &LeastSquaresFitter{}
}

// FitWcs fits a WCS to the matches.
//
// The model maps source pixel offsets about the bounding-box center to
// tangent-plane coordinates of the matched reference objects with a full
// polynomial of degree max(sipOrder, 1) per axis. The constant term is
// folded into CRVAL by a short inner iteration, the linear terms become
// the CD matrix, and for sipOrder >= 2 the higher-order terms are
// converted through the inverse CD matrix into SIP A/B coefficients.
//
// Fewer matches than model terms is an error wrapping
// domain.ErrInsufficientMatches; a numerically singular system wraps
// domain.ErrSingularFit. The returned scatter statistics are medians of
// the per-match residuals under the fitted WCS.
func (f *LeastSquaresFitter) FitWcs(
	matches []domain.Match,
	initWcs domain.Wcs,
	bbox domain.BBox,
	sipOrder int,
) (*domain.FitResult, error) {
	if initWcs == nil {
		return nil, errors.New("an initial WCS is required to seed the fit")
	}
	order := sipOrder
	if order < 1 {
		order = 1
	}
	terms := termList(order)
	if len(matches) < len(terms) {
		return nil, fmt.Errorf("%w: got %d matches, need at least %d for order %d",
			domain.ErrInsufficientMatches, len(matches), len(terms), order)
	}

	crpixX, crpixY := bbox.Center()
	crval := initWcs.PixelToSky(crpixX, crpixY)

	// Normalize pixel offsets to keep the high-order monomials well
	// conditioned.
	scale := bbox.Diagonal() / 2
	if scale <= 0 {
		scale = 1
	}

	n := len(matches)
	design := mat.NewDense(n, len(terms), nil)
	for i, m := range matches {
		u := (m.Src.X - crpixX) / scale
		v := (m.Src.Y - crpixY) / scale
		for j, t := range terms {
			design.Set(i, j, intPow(u, t.p)*intPow(v, t.q))
		}
	}

	rhs := mat.NewDense(n, 2, nil)
	var sol mat.Dense
	for iter := 0; ; iter++ {
		for i, m := range matches {
			xi, eta := wcs.ProjectPlane(m.Ref.Coord, crval)
			rhs.Set(i, 0, xi)
			rhs.Set(i, 1, eta)
		}
		if err := sol.Solve(design, rhs); err != nil {
			var cond mat.Condition
			if !errors.As(err, &cond) {
				return nil, fmt.Errorf("%w: %v", domain.ErrSingularFit, err)
			}
		}
		xi0, eta0 := sol.At(0, 0), sol.At(0, 1)
		if math.Hypot(xi0, eta0) < crvalFoldTol || iter >= crvalFoldMaxIter {
			break
		}
		crval = wcs.DeprojectPlane(xi0, eta0, crval)
	}

	// Coefficients of the normalized model, rescaled to per-pixel units.
	coef := func(p, q, axis int) float64 {
		for j, t := range terms {
			if t.p == p && t.q == q {
				return sol.At(j, axis) / math.Pow(scale, float64(p+q))
			}
		}
		return 0
	}

	// Linear terms in radians per pixel become the CD matrix.
	cdRad := [2][2]float64{
		{coef(1, 0, 0), coef(0, 1, 0)},
		{coef(1, 0, 1), coef(0, 1, 1)},
	}
	det := cdRad[0][0]*cdRad[1][1] - cdRad[0][1]*cdRad[1][0]
	if det == 0 {
		return nil, fmt.Errorf("%w: linear part of the fit has zero determinant", domain.ErrSingularFit)
	}
	radToDeg := 180 / math.Pi
	cd := [2][2]float64{
		{cdRad[0][0] * radToDeg, cdRad[0][1] * radToDeg},
		{cdRad[1][0] * radToDeg, cdRad[1][1] * radToDeg},
	}

	var fitted *wcs.TanWcs
	if sipOrder >= 2 {
		a := make([][]float64, order+1)
		b := make([][]float64, order+1)
		for i := range a {
			a[i] = make([]float64, order+1)
			b[i] = make([]float64, order+1)
		}
		for _, t := range terms {
			if t.p+t.q < 2 {
				continue
			}
			fxi := coef(t.p, t.q, 0)
			feta := coef(t.p, t.q, 1)
			a[t.p][t.q] = (cdRad[1][1]*fxi - cdRad[0][1]*feta) / det
			b[t.p][t.q] = (cdRad[0][0]*feta - cdRad[1][0]*fxi) / det
		}
		fitted = wcs.NewTanSipWcs(crpixX, crpixY, crval, cd, a, b)
	} else {
		fitted = wcs.NewTanWcs(crpixX, crpixY, crval, cd)
	}

	skyResid := make([]float64, n)
	pixResid := make([]float64, n)
	for i, m := range matches {
		c := fitted.PixelToSky(m.Src.X, m.Src.Y)
		skyResid[i] = float64(m.Ref.Coord.Separation(c))
		px, py := fitted.SkyToPixel(m.Ref.Coord)
		pixResid[i] = math.Hypot(px-m.Src.X, py-m.Src.Y)
	}

	return &domain.FitResult{
		Wcs:             fitted,
		ScatterOnSky:    domain.Angle(median(skyResid)),
		ScatterInPixels: median(pixResid),
	}, nil
}

// termList enumerates the monomials u^p v^q with p+q <= order, constant
// first, then by total degree.
func termList(order int) []term {
	var terms []term
	for d := 0; d <= order; d++ {
		for p := d; p >= 0; p-- {
			terms = append(terms, term{p: p, q: d - p})
		}
	}
	return terms
}

func intPow(x float64, n int) float64 {
	r := 1.0
	for i := 0; i < n; i++ {
		r *= x
	}
	return r
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	s := make([]float64, len(vals))
	copy(s, vals)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 0 {
		return (s[n/2-1] + s[n/2]) / 2
	}
	return s[n/2]
}
