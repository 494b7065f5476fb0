package wcs

// SIP distortion evaluation. Coefficients are indexed [p][q] for the
// u^p v^q term; the linear part lives in the CD matrix, so rows with
// p+q < 2 are zero in a fitted WCS.

const (
	sipInvertMaxIter = 50
	sipInvertTol     = 1e-12
)

// evalPoly evaluates the polynomial sum c[p][q] u^p v^q.
func evalPoly(c [][]float64, u, v float64) float64 {
	sum := 0.0
	up := 1.0
	for p := 0; p < len(c); p++ {
		vq := 1.0
		for q := 0; q < len(c[p]); q++ {
			if c[p][q] != 0 {
				sum += c[p][q] * up * vq
			}
			vq *= v
		}
		up *= u
	}
	return sum
}

// invertSip solves u + A(u,v) = uw, v + B(u,v) = vw for (u, v) by
// fixed-point iteration. Distortions are small relative to the linear
// term, so the iteration contracts quickly.
func invertSip(a, b [][]float64, uw, vw float64) (float64, float64) {
	u, v := uw, vw
	for i := 0; i < sipInvertMaxIter; i++ {
		du := uw - (u + evalPoly(a, u, v))
		dv := vw - (v + evalPoly(b, u, v))
		u += du
		v += dv
		if du < sipInvertTol && du > -sipInvertTol && dv < sipInvertTol && dv > -sipInvertTol {
			break
		}
	}
	return u, v
}
