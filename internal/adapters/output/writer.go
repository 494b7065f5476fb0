// Package output provides adapters for writing calibration results.
package output

import (
	"fmt"
	"io"
	"os"

	"github.com/observatory-dev/astrofit/internal/domain"
	"github.com/observatory-dev/astrofit/internal/wcs"
)

// Writer writes a calibration summary to the configured output
// destination. By default, it writes to stdout.
type Writer struct {
	out io.Writer
}

// NewWriter creates a new Writer that writes to stdout.
func NewWriter() *Writer {
	return &Writer{out: os.Stdout}
}

// NewWriterWithOutput creates a new Writer with a custom output
// destination. This is useful for testing.
func NewWriterWithOutput(out io.Writer) *Writer {
	return &Writer{out: out}
}

// WriteResult writes the fitted WCS, match statistics and field
// metadata as KEY VALUE lines.
func (w *Writer) WriteResult(res *domain.CalibrationResult) error {
	if tan, ok := res.Wcs.(*wcs.TanWcs); ok {
		crpixX, crpixY := tan.Crpix()
		crval := tan.Crval()
		cd := tan.CD()
		fmt.Fprintf(w.out, "CRPIX1 %.6f\n", crpixX)
		fmt.Fprintf(w.out, "CRPIX2 %.6f\n", crpixY)
		fmt.Fprintf(w.out, "CRVAL1 %.9f\n", crval.RA)
		fmt.Fprintf(w.out, "CRVAL2 %.9f\n", crval.Dec)
		fmt.Fprintf(w.out, "CD1_1 %.12e\n", cd[0][0])
		fmt.Fprintf(w.out, "CD1_2 %.12e\n", cd[0][1])
		fmt.Fprintf(w.out, "CD2_1 %.12e\n", cd[1][0])
		fmt.Fprintf(w.out, "CD2_2 %.12e\n", cd[1][1])
		fmt.Fprintf(w.out, "SIPORDER %d\n", tan.SipOrder())
	}
	fmt.Fprintf(w.out, "SCALE %.6f\n", res.Wcs.PixelScale().AsArcseconds())
	fmt.Fprintf(w.out, "FLIPPED %t\n", res.Wcs.IsFlipped())
	fmt.Fprintf(w.out, "NMATCHES %d\n", res.Matches.Len())
	fmt.Fprintf(w.out, "SCATTER %.6f\n", res.ScatterOnSky.AsArcseconds())
	if res.SolveStats != nil {
		fmt.Fprintf(w.out, "SOLVELOGODDS %.3f\n", res.SolveStats.LogOdds)
		fmt.Fprintf(w.out, "SOLVEMATCHES %d\n", res.SolveStats.Matches)
	}
	return w.WriteMetadata(res.Metadata)
}

// WriteMetadata writes the field summary used for catalog
// regeneration.
func (w *Writer) WriteMetadata(md domain.MatchMetadata) error {
	fmt.Fprintf(w.out, "RA %.9f\n", md.RA)
	fmt.Fprintf(w.out, "DEC %.9f\n", md.Dec)
	fmt.Fprintf(w.out, "RADIUS %.9f\n", md.Radius)
	_, err := fmt.Fprintf(w.out, "SMATCHV %d\n", md.Version)
	// The FILTER key is omitted when the band is unknown.
	if md.Filter != "" {
		_, err = fmt.Fprintf(w.out, "FILTER %s\n", md.Filter)
	}
	return err
}
