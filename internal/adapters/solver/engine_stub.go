//go:build !astrometry

package solver

import (
	"context"

	"github.com/observatory-dev/astrofit/internal/domain"
)

// NewDefaultEngine returns the engine available in this build. Builds
// without the astrometry tag have no native library linked, so every
// solve reports the engine as unavailable.
func NewDefaultEngine() Engine {
	return stubEngine{}
}

type stubEngine struct{}

func (stubEngine) RegisterIndex(string) error {
	return nil
}

func (stubEngine) Solve(context.Context, EngineRequest) (*EngineSolution, error) {
	return nil, domain.ErrEngineUnavailable
}

func (stubEngine) Close() error {
	return nil
}
