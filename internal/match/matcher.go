// Package match pairs detected sources with reference objects under a
// candidate WCS.
package match

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/observatory-dev/astrofit/internal/domain"
)

// Logger defines the logging interface required by the matcher.
type Logger interface {
	Debug(ctx context.Context, msg string, fields map[string]any)
	Warn(ctx context.Context, msg string, fields map[string]any)
}

// maxCleaningPasses bounds the sigma-clipping loop.
const maxCleaningPasses = 10

// PairMatcher matches sources to reference objects by nearest neighbor
// on the sky, enforcing a one-to-one pairing and sigma-clipping
// outliers. It implements domain.Matcher.
type PairMatcher struct {
	log Logger
}

// New creates a PairMatcher.
func New(log Logger) *PairMatcher {
	return &PairMatcher{log: log}
}

type candidate struct {
	src  *domain.Source
	ref  *domain.ReferenceObject
	dist domain.Angle
}

// Match pairs sources with reference objects under w.
//
// Each source is projected to the sky (updating its derived RA/Dec
// fields) and paired with its nearest reference object within maxDist.
// When two sources prefer the same reference object the closer pair is
// retained and the other dropped, so no source and no reference object
// appears in more than one match. The surviving separations are then
// iteratively sigma-clipped at cleaningSigma standard deviations until
// the set is stable or the pass limit is hit.
//
// Zero survivors is reported as an error wrapping domain.ErrNoMatches.
// Duplicate reference identifiers among the survivors indicate catalog
// duplicates and are logged as a warning, not an error.
func (m *PairMatcher) Match(
	ctx context.Context,
	sources []*domain.Source,
	refs []*domain.ReferenceObject,
	w domain.Wcs,
	maxDist domain.Angle,
	cleaningSigma float64,
) (*domain.MatchList, error) {
	if len(sources) == 0 || len(refs) == 0 {
		return nil, fmt.Errorf("%w: %d sources, %d reference objects",
			domain.ErrNoMatches, len(sources), len(refs))
	}
	if maxDist <= 0 {
		return nil, fmt.Errorf("match distance must be positive, got %g arcsec", maxDist.AsArcseconds())
	}

	for _, s := range sources {
		c := w.PixelToSky(s.X, s.Y)
		s.RA = c.RA
		s.Dec = c.Dec
	}

	cands := make([]candidate, 0, len(sources))
	for _, s := range sources {
		sc := domain.SkyCoord{RA: s.RA, Dec: s.Dec}
		var best *domain.ReferenceObject
		bestDist := maxDist
		for _, r := range refs {
			d := sc.Separation(r.Coord)
			if d <= bestDist {
				best = r
				bestDist = d
			}
		}
		if best != nil {
			cands = append(cands, candidate{src: s, ref: best, dist: bestDist})
		}
	}
	considered := len(cands)

	// Accept in order of increasing separation so a contested reference
	// object goes to the closer source.
	sort.Slice(cands, func(i, j int) bool { return cands[i].dist < cands[j].dist })
	usedRef := make(map[*domain.ReferenceObject]bool, len(cands))
	matches := make([]domain.Match, 0, len(cands))
	for _, c := range cands {
		if usedRef[c.ref] {
			continue
		}
		usedRef[c.ref] = true
		matches = append(matches, domain.Match{Ref: c.ref, Src: c.src, Distance: c.dist})
	}

	matches = m.cleanOutliers(ctx, matches, cleaningSigma)
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: %d candidates considered, none survived cleaning",
			domain.ErrNoMatches, considered)
	}

	unique := make(map[int64]struct{}, len(matches))
	for _, match := range matches {
		unique[match.Ref.ID] = struct{}{}
	}
	if len(unique) != len(matches) {
		m.log.Warn(ctx, "match list contains duplicate reference object IDs", map[string]any{
			"matches":    len(matches),
			"unique_ids": len(unique),
		})
	}

	mean, stddev, median := distanceStats(matches)
	m.log.Debug(ctx, "matched sources to reference objects", map[string]any{
		"candidates":     considered,
		"matches":        len(matches),
		"median_arcsec":  median.AsArcseconds(),
		"mean_arcsec":    mean.AsArcseconds(),
		"std_dev_arcsec": stddev.AsArcseconds(),
	})

	return &domain.MatchList{
		Matches:        matches,
		MeanDistance:   mean,
		StdDevDistance: stddev,
		MedianDistance: median,
	}, nil
}

// cleanOutliers removes matches whose separation exceeds cleaningSigma
// standard deviations above the mean, recomputing the statistics each
// pass until the set is stable.
func (m *PairMatcher) cleanOutliers(ctx context.Context, matches []domain.Match, cleaningSigma float64) []domain.Match {
	for pass := 0; pass < maxCleaningPasses && len(matches) > 0; pass++ {
		mean, stddev, _ := distanceStats(matches)
		threshold := mean + domain.Angle(cleaningSigma)*stddev
		kept := matches[:0]
		for _, match := range matches {
			if match.Distance <= threshold {
				kept = append(kept, match)
			}
		}
		if len(kept) == len(matches) {
			break
		}
		m.log.Debug(ctx, "sigma-clipped outlier matches", map[string]any{
			"pass":             pass,
			"removed":          len(matches) - len(kept),
			"threshold_arcsec": threshold.AsArcseconds(),
		})
		matches = kept
	}
	return matches
}

// distanceStats returns the mean, standard deviation, and median of the
// match separations.
func distanceStats(matches []domain.Match) (mean, stddev, median domain.Angle) {
	if len(matches) == 0 {
		return 0, 0, 0
	}
	sum := 0.0
	dists := make([]float64, len(matches))
	for i, m := range matches {
		dists[i] = float64(m.Distance)
		sum += dists[i]
	}
	mu := sum / float64(len(dists))

	varSum := 0.0
	for _, d := range dists {
		varSum += (d - mu) * (d - mu)
	}
	sigma := math.Sqrt(varSum / float64(len(dists)))

	sort.Float64s(dists)
	n := len(dists)
	med := dists[n/2]
	if n%2 == 0 {
		med = (dists[n/2-1] + dists[n/2]) / 2
	}
	return domain.Angle(mu), domain.Angle(sigma), domain.Angle(med)
}
