// Package wcs implements the tangent-plane (TAN) world coordinate
// system with optional SIP polynomial distortion.
package wcs

import (
	"math"

	"github.com/observatory-dev/astrofit/internal/domain"
)

// TanWcs is a tangent-plane WCS: a reference pixel (CRPIX), a reference
// sky position (CRVAL), a CD matrix in degrees per pixel, and optional
// SIP distortion terms. Values are immutable after construction.
type TanWcs struct {
	crpixX float64
	crpixY float64
	crval  domain.SkyCoord
	cd     [2][2]float64

	// sipA, sipB are forward distortion coefficients indexed [p][q]
	// for the u^p v^q term. Nil for a pure TAN WCS.
	sipA [][]float64
	sipB [][]float64
}

// NewTanWcs returns a pure tangent-plane WCS.
func NewTanWcs(crpixX, crpixY float64, crval domain.SkyCoord, cd [2][2]float64) *TanWcs {
	return &TanWcs{crpixX: crpixX, crpixY: crpixY, crval: crval, cd: cd}
}

// NewTanSipWcs returns a tangent-plane WCS with SIP distortion terms.
// a and b hold the forward coefficients indexed [p][q]; nil slices give
// a pure TAN WCS.
func NewTanSipWcs(crpixX, crpixY float64, crval domain.SkyCoord, cd [2][2]float64, a, b [][]float64) *TanWcs {
	return &TanWcs{crpixX: crpixX, crpixY: crpixY, crval: crval, cd: cd, sipA: a, sipB: b}
}

// Crpix returns the reference pixel.
func (w *TanWcs) Crpix() (float64, float64) {
	return w.crpixX, w.crpixY
}

// Crval returns the reference sky position.
func (w *TanWcs) Crval() domain.SkyCoord {
	return w.crval
}

// CD returns the linear transform matrix in degrees per pixel.
func (w *TanWcs) CD() [2][2]float64 {
	return w.cd
}

// SipOrder returns the polynomial distortion order, 0 for pure TAN.
func (w *TanWcs) SipOrder() int {
	if w.sipA == nil {
		return 0
	}
	return len(w.sipA) - 1
}

// PixelToSky maps a pixel position to the sky.
func (w *TanWcs) PixelToSky(x, y float64) domain.SkyCoord {
	u := x - w.crpixX
	v := y - w.crpixY
	if w.sipA != nil {
		du := evalPoly(w.sipA, u, v)
		dv := evalPoly(w.sipB, u, v)
		u += du
		v += dv
	}
	xi := (w.cd[0][0]*u + w.cd[0][1]*v) * math.Pi / 180
	eta := (w.cd[1][0]*u + w.cd[1][1]*v) * math.Pi / 180
	return DeprojectPlane(xi, eta, w.crval)
}

// SkyToPixel maps a sky position to a pixel position. With SIP terms
// the distortion is inverted by fixed-point iteration.
func (w *TanWcs) SkyToPixel(c domain.SkyCoord) (float64, float64) {
	xi, eta := ProjectPlane(c, w.crval)
	xiDeg := xi * 180 / math.Pi
	etaDeg := eta * 180 / math.Pi

	det := w.cd[0][0]*w.cd[1][1] - w.cd[0][1]*w.cd[1][0]
	u := (w.cd[1][1]*xiDeg - w.cd[0][1]*etaDeg) / det
	v := (w.cd[0][0]*etaDeg - w.cd[1][0]*xiDeg) / det

	if w.sipA != nil {
		u, v = invertSip(w.sipA, w.sipB, u, v)
	}
	return u + w.crpixX, v + w.crpixY
}

// PixelScale returns the angular size of a pixel, from the CD
// determinant.
func (w *TanWcs) PixelScale() domain.Angle {
	det := w.cd[0][0]*w.cd[1][1] - w.cd[0][1]*w.cd[1][0]
	return domain.AngleFromDegrees(math.Sqrt(math.Abs(det)))
}

// IsFlipped reports whether the pixel axes are mirrored relative to the
// sky axes. A standard sky orientation (East left) has a negative CD
// determinant; a positive determinant means the image is flipped.
func (w *TanWcs) IsFlipped() bool {
	return w.cd[0][0]*w.cd[1][1]-w.cd[0][1]*w.cd[1][0] > 0
}

// MakeCdMatrix builds a CD matrix from a pixel scale, a rotation of the
// sky axes on the image, and an optional x-axis flip.
func MakeCdMatrix(scale domain.Angle, orientation domain.Angle, flipX bool) [2][2]float64 {
	s := scale.AsDegrees()
	cos := math.Cos(float64(orientation))
	sin := math.Sin(float64(orientation))
	cd := [2][2]float64{
		{s * cos, -s * sin},
		{s * sin, s * cos},
	}
	if flipX {
		cd[0][0] = -cd[0][0]
		cd[1][0] = -cd[1][0]
	}
	return cd
}

// ProjectPlane computes the gnomonic (tangent-plane) standard
// coordinates of c about center, in radians.
func ProjectPlane(c, center domain.SkyCoord) (xi, eta float64) {
	ra := c.RA * math.Pi / 180
	dec := c.Dec * math.Pi / 180
	ra0 := center.RA * math.Pi / 180
	dec0 := center.Dec * math.Pi / 180

	sinDec, cosDec := math.Sincos(dec)
	sinDec0, cosDec0 := math.Sincos(dec0)
	cosDRA := math.Cos(ra - ra0)

	cosC := sinDec0*sinDec + cosDec0*cosDec*cosDRA
	xi = cosDec * math.Sin(ra-ra0) / cosC
	eta = (cosDec0*sinDec - sinDec0*cosDec*cosDRA) / cosC
	return xi, eta
}

// DeprojectPlane inverts ProjectPlane: it maps standard coordinates
// (radians) about center back to the sky.
func DeprojectPlane(xi, eta float64, center domain.SkyCoord) domain.SkyCoord {
	ra0 := center.RA * math.Pi / 180
	dec0 := center.Dec * math.Pi / 180
	sinDec0, cosDec0 := math.Sincos(dec0)

	f := 1 / math.Sqrt(1+xi*xi+eta*eta)
	dec := math.Asin(f * (sinDec0 + eta*cosDec0))
	ra := ra0 + math.Atan2(xi, cosDec0-eta*sinDec0)

	raDeg := math.Mod(ra*180/math.Pi, 360)
	if raDeg < 0 {
		raDeg += 360
	}
	return domain.SkyCoord{RA: raDeg, Dec: dec * 180 / math.Pi}
}
