package solver

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/observatory-dev/astrofit/internal/domain"
)

// mockLogger implements the Logger interface for testing.
type mockLogger struct{}

func (m *mockLogger) Debug(_ context.Context, _ string, _ map[string]any) {}
func (m *mockLogger) Warn(_ context.Context, _ string, _ map[string]any)  {}

// fakeEngine records the requests it receives and replays a scripted
// outcome.
type fakeEngine struct {
	registered []string
	lastReq    EngineRequest
	solveCalls int

	solution *EngineSolution
	solveErr error
	blocking bool

	closed bool
}

func (f *fakeEngine) RegisterIndex(path string) error {
	f.registered = append(f.registered, path)
	return nil
}

func (f *fakeEngine) Solve(ctx context.Context, req EngineRequest) (*EngineSolution, error) {
	f.solveCalls++
	f.lastReq = req
	if f.blocking {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.solution, f.solveErr
}

func (f *fakeEngine) Close() error {
	f.closed = true
	return nil
}

func sourceGrid(n int) []*domain.Source {
	var out []*domain.Source
	for i := 0; i < n; i++ {
		out = append(out, &domain.Source{
			ID:   int64(i),
			X:    float64(i%30) * 30,
			Y:    float64(i/30) * 30,
			Flux: float64(1000 - i),
		})
	}
	return out
}

func validRequest() domain.SolveRequest {
	return domain.SolveRequest{
		Sources: sourceGrid(100),
		Width:   1000,
		Height:  1000,
	}
}

func TestAdapter_Solve_Validation(t *testing.T) {
	yes := true
	tests := []struct {
		name    string
		mutate  func(*domain.SolveRequest)
		wantErr error
	}{
		{
			name:    "missing image size",
			mutate:  func(r *domain.SolveRequest) { r.Width = 0 },
			wantErr: domain.ErrImageSizeRequired,
		},
		{
			name: "center hint without use flag",
			mutate: func(r *domain.SolveRequest) {
				r.Center = &domain.SkyCoord{RA: 150, Dec: 2}
				r.UseCenter = false
			},
			wantErr: domain.ErrHintConflict,
		},
		{
			name: "pixel scale hint without use flag",
			mutate: func(r *domain.SolveRequest) {
				r.PixelScale = domain.AngleFromArcsec(0.2)
				r.UsePixelScale = false
			},
			wantErr: domain.ErrHintConflict,
		},
		{
			name: "parity hint without use flag",
			mutate: func(r *domain.SolveRequest) {
				r.Parity = &yes
				r.UseParity = false
			},
			wantErr: domain.ErrHintConflict,
		},
		{
			name: "center hint with no way to derive a radius",
			mutate: func(r *domain.SolveRequest) {
				r.Center = &domain.SkyCoord{RA: 150, Dec: 2}
				r.UseCenter = true
			},
			wantErr: domain.ErrSearchRadiusUnresolvable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeEngine{}
			a := New(engine, nil, &mockLogger{})

			req := validRequest()
			tt.mutate(&req)
			_, err := a.Solve(context.Background(), req)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, engine.solveCalls, "engine must not run on a contract violation")
		})
	}
}

func TestAdapter_Solve_Success(t *testing.T) {
	engine := &fakeEngine{solution: &EngineSolution{
		CrpixX:  500,
		CrpixY:  500,
		RA:      150.1,
		Dec:     2.2,
		CD:      [2][2]float64{{-5.5e-5, 0}, {0, 5.5e-5}},
		Matches: 31,
		LogOdds: 140.2,
	}}
	a := New(engine, []string{"index-4200.fits", "index-4201.fits"}, &mockLogger{})

	res, err := a.Solve(context.Background(), validRequest())
	require.NoError(t, err)

	require.True(t, res.Solved)
	require.NotNil(t, res.Wcs)
	assert.Equal(t, 31, res.Stats.Matches)
	assert.InDelta(t, 140.2, res.Stats.LogOdds, 1e-9)

	c := res.Wcs.PixelToSky(500, 500)
	assert.InDelta(t, 150.1, c.RA, 1e-9)
	assert.InDelta(t, 2.2, c.Dec, 1e-9)
	assert.Equal(t, []string{"index-4200.fits", "index-4201.fits"}, engine.registered)
}

func TestAdapter_Solve_RegistersIndexesOnce(t *testing.T) {
	engine := &fakeEngine{solution: &EngineSolution{CD: [2][2]float64{{-1e-5, 0}, {0, 1e-5}}}}
	a := New(engine, []string{"index-4200.fits"}, &mockLogger{})

	for i := 0; i < 3; i++ {
		_, err := a.Solve(context.Background(), validRequest())
		require.NoError(t, err)
	}
	assert.Len(t, engine.registered, 1)
}

func TestAdapter_Solve_NotSolvedIsNotAnError(t *testing.T) {
	engine := &fakeEngine{solution: nil}
	a := New(engine, nil, &mockLogger{})

	res, err := a.Solve(context.Background(), validRequest())
	require.NoError(t, err)
	assert.False(t, res.Solved)
	assert.Nil(t, res.Wcs)
}

func TestAdapter_Solve_BudgetExpiryIsNotSolved(t *testing.T) {
	engine := &fakeEngine{blocking: true}
	a := New(engine, nil, &mockLogger{})

	req := validRequest()
	req.CPULimit = 10 * time.Millisecond

	start := time.Now()
	res, err := a.Solve(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.Solved)
	assert.Less(t, time.Since(start), 5*time.Second, "budget expiry must not hang")
}

func TestAdapter_Solve_EngineErrorPropagates(t *testing.T) {
	engine := &fakeEngine{solveErr: errors.New("index corrupt")}
	a := New(engine, nil, &mockLogger{})

	_, err := a.Solve(context.Background(), validRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index corrupt")
}

func TestAdapter_Close(t *testing.T) {
	engine := &fakeEngine{}
	a := New(engine, nil, &mockLogger{})
	require.NoError(t, a.Close())
	assert.True(t, engine.closed)
}

func TestBuildEngineRequest_BrightestStarsFirst(t *testing.T) {
	req := validRequest()
	req.Sources = []*domain.Source{
		{ID: 1, X: 1, Y: 1, Flux: 10},
		{ID: 2, X: 2, Y: 2, Flux: 500},
		{ID: 3, X: 3, Y: 3, Flux: 100},
	}
	req.MaxStars = 2

	ereq, err := buildEngineRequest(req)
	require.NoError(t, err)

	require.Len(t, ereq.X, 2)
	assert.Equal(t, []float64{2, 3}, ereq.X)
	assert.Equal(t, []float64{500, 100}, ereq.Flux)

	// The caller's slice order is untouched.
	assert.Equal(t, int64(1), req.Sources[0].ID)
}

func TestBuildEngineRequest_DerivedSearchRadius(t *testing.T) {
	req := validRequest()
	req.Center = &domain.SkyCoord{RA: 150, Dec: 2}
	req.UseCenter = true
	req.PixelScale = domain.AngleFromArcsec(1)
	req.UsePixelScale = true
	req.SearchRadiusScale = 2

	ereq, err := buildEngineRequest(req)
	require.NoError(t, err)

	require.True(t, ereq.HasCenter)
	wantDeg := 1.0 / 3600 * math.Hypot(1000, 1000) / 2 * 2
	assert.InDelta(t, wantDeg, ereq.RadiusDeg, 1e-9)
}

func TestBuildEngineRequest_ExplicitRadiusWins(t *testing.T) {
	req := validRequest()
	req.Center = &domain.SkyCoord{RA: 150, Dec: 2}
	req.UseCenter = true
	req.SearchRadius = domain.AngleFromDegrees(1.5)

	ereq, err := buildEngineRequest(req)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, ereq.RadiusDeg, 1e-9)
}

func TestBuildEngineRequest_ScaleRange(t *testing.T) {
	req := validRequest()
	req.PixelScale = domain.AngleFromArcsec(0.2)
	req.UsePixelScale = true
	req.ScaleUncertainty = 1.25

	ereq, err := buildEngineRequest(req)
	require.NoError(t, err)

	require.True(t, ereq.HasScaleRange)
	assert.InDelta(t, 0.16, ereq.ScaleLoArcsec, 1e-9)
	assert.InDelta(t, 0.25, ereq.ScaleHiArcsec, 1e-9)
}

func TestBuildEngineRequest_Parity(t *testing.T) {
	req := validRequest()
	ereq, err := buildEngineRequest(req)
	require.NoError(t, err)
	assert.Equal(t, ParityUnknown, ereq.Parity)

	flipped := true
	req.Parity = &flipped
	req.UseParity = true
	ereq, err = buildEngineRequest(req)
	require.NoError(t, err)
	assert.Equal(t, ParityFlipped, ereq.Parity)

	normal := false
	req.Parity = &normal
	ereq, err = buildEngineRequest(req)
	require.NoError(t, err)
	assert.Equal(t, ParityNormal, ereq.Parity)
}
