//go:build astrometry

package solver

/*
#cgo LDFLAGS: -lastrofitengine -lastrometry -lm
#include <stdlib.h>
#include "astrofit_engine.h"
*/
import "C"

import (
	"context"
	"fmt"
	"time"
	"unsafe"
)

// nativeEngine wraps the C shim over libastrometry. One engine owns one
// native solver instance plus its registered indexes; it is not safe for
// concurrent solves.
type nativeEngine struct {
	handle *C.struct_af_engine
}

// NewDefaultEngine creates the native quad-matching engine.
func NewDefaultEngine() Engine {
	return &nativeEngine{handle: C.af_engine_new()}
}

func (e *nativeEngine) RegisterIndex(path string) error {
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	if rc := C.af_engine_add_index(e.handle, cPath); rc != 0 {
		return fmt.Errorf("index load failed with native code %d: %s", int(rc), path)
	}
	return nil
}

func (e *nativeEngine) Solve(ctx context.Context, req EngineRequest) (*EngineSolution, error) {
	if len(req.X) == 0 {
		return nil, nil
	}

	var creq C.struct_af_request
	creq.n_stars = C.int(len(req.X))
	creq.x = (*C.double)(unsafe.Pointer(&req.X[0]))
	creq.y = (*C.double)(unsafe.Pointer(&req.Y[0]))
	creq.flux = (*C.double)(unsafe.Pointer(&req.Flux[0]))
	creq.width = C.int(req.Width)
	creq.height = C.int(req.Height)
	creq.parity = C.int(req.Parity)

	if req.HasCenter {
		creq.has_center = 1
		creq.ra_center = C.double(req.RACenter)
		creq.dec_center = C.double(req.DecCenter)
		creq.radius_deg = C.double(req.RadiusDeg)
	}
	if req.HasScaleRange {
		creq.has_scale = 1
		creq.scale_lo = C.double(req.ScaleLoArcsec)
		creq.scale_hi = C.double(req.ScaleHiArcsec)
	}
	if deadline, ok := ctx.Deadline(); ok {
		creq.cpu_limit_ms = C.long(deadlineMillis(deadline))
	}

	var csol C.struct_af_solution
	rc := C.af_engine_solve(e.handle, &creq, &csol)
	if rc == C.AF_NOT_SOLVED {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if rc != 0 {
		return nil, fmt.Errorf("native solve failed with code %d", int(rc))
	}

	return &EngineSolution{
		CrpixX: float64(csol.crpix_x),
		CrpixY: float64(csol.crpix_y),
		RA:     float64(csol.ra),
		Dec:    float64(csol.dec),
		CD: [2][2]float64{
			{float64(csol.cd11), float64(csol.cd12)},
			{float64(csol.cd21), float64(csol.cd22)},
		},
		Matches: int(csol.n_matches),
		LogOdds: float64(csol.log_odds),
	}, nil
}

func deadlineMillis(deadline time.Time) int64 {
	ms := time.Until(deadline).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}

func (e *nativeEngine) Close() error {
	if e.handle != nil {
		C.af_engine_free(e.handle)
		e.handle = nil
	}
	return nil
}
