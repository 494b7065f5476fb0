package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAngleConversions(t *testing.T) {
	a := AngleFromDegrees(1)
	assert.InDelta(t, 1, a.AsDegrees(), 1e-12)
	assert.InDelta(t, 3600, a.AsArcseconds(), 1e-9)

	b := AngleFromArcsec(0.2)
	assert.InDelta(t, 0.2, b.AsArcseconds(), 1e-12)
}

func TestSkyCoord_Separation(t *testing.T) {
	tests := []struct {
		name       string
		a, b       SkyCoord
		wantArcsec float64
	}{
		{
			name:       "coincident",
			a:          SkyCoord{RA: 150, Dec: 2},
			b:          SkyCoord{RA: 150, Dec: 2},
			wantArcsec: 0,
		},
		{
			name:       "one arcsec in declination",
			a:          SkyCoord{RA: 150, Dec: 2},
			b:          SkyCoord{RA: 150, Dec: 2 + 1.0/3600},
			wantArcsec: 1,
		},
		{
			name: "RA separation shrinks with declination",
			a:    SkyCoord{RA: 10, Dec: 60},
			b:    SkyCoord{RA: 10 + 1.0/3600, Dec: 60},
			// cos(60 deg) = 0.5
			wantArcsec: 0.5,
		},
		{
			name:       "across the RA wrap",
			a:          SkyCoord{RA: 359.9999, Dec: 0},
			b:          SkyCoord{RA: 0.0001, Dec: 0},
			wantArcsec: 0.72,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.wantArcsec, tt.a.Separation(tt.b).AsArcseconds(), 1e-6)
			assert.InDelta(t, tt.wantArcsec, tt.b.Separation(tt.a).AsArcseconds(), 1e-6)
		})
	}
}

func TestSkyCoord_Offset(t *testing.T) {
	c := SkyCoord{RA: 150, Dec: 2}
	dist := AngleFromArcsec(10)

	// Bearing 0 is due north.
	north := c.Offset(0, dist)
	assert.InDelta(t, 10, c.Separation(north).AsArcseconds(), 1e-6)
	assert.Greater(t, north.Dec, c.Dec)
	assert.InDelta(t, c.RA, north.RA, 1e-9)

	// Bearing pi/2 is due east.
	east := c.Offset(Angle(math.Pi/2), dist)
	assert.InDelta(t, 10, c.Separation(east).AsArcseconds(), 1e-6)
	assert.Greater(t, east.RA, c.RA)

	// Offsetting stays within the RA range.
	wrapped := SkyCoord{RA: 359.999, Dec: 0}.Offset(Angle(math.Pi/2), AngleFromArcsec(30))
	assert.GreaterOrEqual(t, wrapped.RA, 0.0)
	assert.Less(t, wrapped.RA, 360.0)
}

func TestBBox(t *testing.T) {
	b := NewBBox(4096, 2048)

	cx, cy := b.Center()
	assert.Equal(t, 2048.0, cx)
	assert.Equal(t, 1024.0, cy)
	assert.InDelta(t, math.Hypot(4096, 2048), b.Diagonal(), 1e-9)

	assert.True(t, b.Contains(0, 0))
	assert.True(t, b.Contains(4096, 2048))
	assert.False(t, b.Contains(-1, 100))
	assert.False(t, b.Contains(100, 2049))

	g := b.Grown(50)
	assert.True(t, g.Contains(-50, -50))
	assert.True(t, g.Contains(4146, 2098))
	assert.False(t, g.Contains(-51, 0))
}

func TestTrimToBBox(t *testing.T) {
	objs := []*ReferenceObject{
		{ID: 1, X: 100, Y: 100},
		{ID: 2, X: -30, Y: 100},
		{ID: 3, X: -60, Y: 100},
		{ID: 4, X: 1020, Y: 500},
	}
	kept := TrimToBBox(objs, NewBBox(1000, 1000), 50)

	ids := make([]int64, 0, len(kept))
	for _, o := range kept {
		ids = append(ids, o.ID)
	}
	// The margin admits objects up to 50 px outside the box.
	assert.ElementsMatch(t, []int64{1, 2, 4}, ids)
}

func TestTrimSources(t *testing.T) {
	sources := []*Source{
		{ID: 1, X: 10, Y: 10},
		{ID: 2, X: -1, Y: 10},
		{ID: 3, X: 500, Y: 1001},
	}
	kept := TrimSources(sources, NewBBox(1000, 1000))
	require.Len(t, kept, 1)
	assert.Equal(t, int64(1), kept[0].ID)
}

func TestMatchList_Len(t *testing.T) {
	var nilList *MatchList
	assert.Zero(t, nilList.Len())
	assert.Zero(t, (&MatchList{}).Len())
	assert.Equal(t, 2, (&MatchList{Matches: make([]Match, 2)}).Len())
}

func TestSolveRequest_Validate(t *testing.T) {
	yes := true
	valid := func() SolveRequest {
		return SolveRequest{Width: 100, Height: 100, CPULimit: time.Second}
	}

	tests := []struct {
		name    string
		mutate  func(*SolveRequest)
		wantErr error
	}{
		{name: "valid", mutate: func(_ *SolveRequest) {}, wantErr: nil},
		{
			name:    "zero width",
			mutate:  func(r *SolveRequest) { r.Width = 0 },
			wantErr: ErrImageSizeRequired,
		},
		{
			name:    "negative height",
			mutate:  func(r *SolveRequest) { r.Height = -5 },
			wantErr: ErrImageSizeRequired,
		},
		{
			name:    "center without use flag",
			mutate:  func(r *SolveRequest) { r.Center = &SkyCoord{RA: 1, Dec: 2} },
			wantErr: ErrHintConflict,
		},
		{
			name:    "scale without use flag",
			mutate:  func(r *SolveRequest) { r.PixelScale = AngleFromArcsec(0.2) },
			wantErr: ErrHintConflict,
		},
		{
			name:    "parity without use flag",
			mutate:  func(r *SolveRequest) { r.Parity = &yes },
			wantErr: ErrHintConflict,
		},
		{
			name: "hints with use flags are fine",
			mutate: func(r *SolveRequest) {
				r.Center = &SkyCoord{RA: 1, Dec: 2}
				r.UseCenter = true
				r.PixelScale = AngleFromArcsec(0.2)
				r.UsePixelScale = true
				r.Parity = &yes
				r.UseParity = true
			},
			wantErr: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(&req)
			err := req.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
