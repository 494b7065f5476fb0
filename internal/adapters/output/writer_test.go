package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/observatory-dev/astrofit/internal/domain"
	"github.com/observatory-dev/astrofit/internal/wcs"
)

func testResult() *domain.CalibrationResult {
	cd := wcs.MakeCdMatrix(domain.AngleFromArcsec(0.2), 0, true)
	w := wcs.NewTanWcs(1500, 1500, domain.SkyCoord{RA: 150.1, Dec: 2.2}, cd)
	return &domain.CalibrationResult{
		Wcs: w,
		Matches: &domain.MatchList{
			Matches: make([]domain.Match, 42),
		},
		ScatterOnSky: domain.AngleFromArcsec(0.015),
		Metadata: domain.MatchMetadata{
			RA:      150.1,
			Dec:     2.2,
			Radius:  0.117,
			Version: domain.MatchMetadataVersion,
			Filter:  "r",
		},
	}
}

func TestWriter_WriteResult(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriterWithOutput(&buf)

	require.NoError(t, w.WriteResult(testResult()))
	out := buf.String()

	for _, key := range []string{
		"CRPIX1 ", "CRPIX2 ", "CRVAL1 ", "CRVAL2 ",
		"CD1_1 ", "CD1_2 ", "CD2_1 ", "CD2_2 ",
		"SIPORDER 0", "SCALE 0.2", "NMATCHES 42", "SCATTER 0.015",
		"RA 150.1", "DEC 2.2", "RADIUS 0.117", "SMATCHV 1", "FILTER r",
	} {
		assert.Contains(t, out, key)
	}
	assert.NotContains(t, out, "SOLVELOGODDS", "no blind solve stats without a blind solve")
}

func TestWriter_WriteResult_WithSolveStats(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriterWithOutput(&buf)

	res := testResult()
	res.SolveStats = &domain.SolveStats{Matches: 28, LogOdds: 133.4}
	require.NoError(t, w.WriteResult(res))

	assert.Contains(t, buf.String(), "SOLVELOGODDS 133.4")
	assert.Contains(t, buf.String(), "SOLVEMATCHES 28")
}

func TestWriter_WriteMetadata_EmptyFilterOmitsKey(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriterWithOutput(&buf)

	require.NoError(t, w.WriteMetadata(domain.MatchMetadata{
		RA:      10,
		Dec:     -5,
		Radius:  0.2,
		Version: domain.MatchMetadataVersion,
	}))

	// An unknown band produces no FILTER line at all.
	assert.NotContains(t, buf.String(), "FILTER")
	assert.Contains(t, buf.String(), "SMATCHV 1")
}
