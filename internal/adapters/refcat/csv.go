// Package refcat provides reference catalog adapters implementing the
// domain.ReferenceLoader port.
package refcat

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/observatory-dev/astrofit/internal/domain"
)

// Logger defines the logging interface required by the loader.
type Logger interface {
	Debug(ctx context.Context, msg string, fields map[string]any)
	Warn(ctx context.Context, msg string, fields map[string]any)
}

// Options maps catalog columns to reference object fields. Optional
// columns (magnitude error, star/galaxy, variability) may be absent
// from the catalog entirely; their values then default to absent.
type Options struct {
	// IDColumn names the identifier column. A missing column falls back
	// to the row number.
	IDColumn string

	// RAColumn and DecColumn name the required position columns, in
	// degrees.
	RAColumn  string
	DecColumn string

	// MagColumns maps a filter name to its magnitude column;
	// DefaultMagColumn is used for unmapped filters.
	MagColumns       map[string]string
	DefaultMagColumn string

	// MagErrColumns maps a filter name to its magnitude-error column;
	// DefaultMagErrColumn is used for unmapped filters.
	MagErrColumns       map[string]string
	DefaultMagErrColumn string

	// StarGalaxyColumn and VariableColumn name the optional flag
	// columns.
	StarGalaxyColumn string
	VariableColumn   string
}

// DefaultOptions returns the standard column mapping.
func DefaultOptions() Options {
	return Options{
		IDColumn:            "id",
		RAColumn:            "ra",
		DecColumn:           "dec",
		DefaultMagColumn:    "mag",
		DefaultMagErrColumn: "mag_err",
		StarGalaxyColumn:    "starnotgal",
		VariableColumn:      "variable",
	}
}

// CSVLoader reads a reference catalog from a CSV file at construction
// and serves region queries from memory. It is safe for concurrent
// read-only use and implements domain.ReferenceLoader.
type CSVLoader struct {
	opts   Options
	header map[string]int
	rows   [][]string
	log    Logger
}

// NewCSVLoader parses the catalog file. The header row is required and
// must contain the RA and Dec columns; all other columns are optional.
func NewCSVLoader(path string, opts Options, log Logger) (*CSVLoader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open reference catalog: %w", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse reference catalog %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("reference catalog %s is empty", path)
	}

	header := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		header[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := header[opts.RAColumn]; !ok {
		return nil, fmt.Errorf("reference catalog %s is missing column %q", path, opts.RAColumn)
	}
	if _, ok := header[opts.DecColumn]; !ok {
		return nil, fmt.Errorf("reference catalog %s is missing column %q", path, opts.DecColumn)
	}

	return &CSVLoader{
		opts:   opts,
		header: header,
		rows:   records[1:],
		log:    log,
	}, nil
}

// LoadRegion returns the catalog entries within radius of center, with
// magnitudes taken from the column mapped to filterName. An empty
// region yields an empty slice, not an error.
func (l *CSVLoader) LoadRegion(ctx context.Context, center domain.SkyCoord, radius domain.Angle, filterName string) ([]*domain.ReferenceObject, error) {
	raIdx := l.header[l.opts.RAColumn]
	decIdx := l.header[l.opts.DecColumn]
	idIdx := l.columnIndex(l.opts.IDColumn)
	magIdx := l.magColumnIndex(l.opts.MagColumns, l.opts.DefaultMagColumn, filterName)
	magErrIdx := l.magColumnIndex(l.opts.MagErrColumns, l.opts.DefaultMagErrColumn, filterName)
	sgIdx := l.columnIndex(l.opts.StarGalaxyColumn)
	varIdx := l.columnIndex(l.opts.VariableColumn)

	if magIdx < 0 {
		l.log.Warn(ctx, "no magnitude column for filter, magnitudes will be absent", map[string]any{
			"filter": filterName,
		})
	}

	var objs []*domain.ReferenceObject
	skipped := 0
	for i, row := range l.rows {
		ra, raErr := strconv.ParseFloat(strings.TrimSpace(row[raIdx]), 64)
		dec, decErr := strconv.ParseFloat(strings.TrimSpace(row[decIdx]), 64)
		if raErr != nil || decErr != nil {
			skipped++
			continue
		}
		coord := domain.SkyCoord{RA: ra, Dec: dec}
		if center.Separation(coord) > radius {
			continue
		}

		id := int64(i)
		if idIdx >= 0 {
			if parsed, err := strconv.ParseInt(strings.TrimSpace(row[idIdx]), 10, 64); err == nil {
				id = parsed
			}
		}
		objs = append(objs, &domain.ReferenceObject{
			ID:       id,
			Coord:    coord,
			Mag:      parseFloatColumn(row, magIdx),
			MagErr:   parseFloatColumn(row, magErrIdx),
			Star:     parseTriState(row, sgIdx),
			Variable: parseTriState(row, varIdx),
		})
	}

	if skipped > 0 {
		l.log.Warn(ctx, "skipped malformed catalog rows", map[string]any{
			"skipped": skipped,
		})
	}
	l.log.Debug(ctx, "loaded reference region", map[string]any{
		"objects":    len(objs),
		"radius_deg": radius.AsDegrees(),
		"filter":     filterName,
	})
	return objs, nil
}

// ProjectToPixels sets each object's pixel position under w.
func (l *CSVLoader) ProjectToPixels(objs []*domain.ReferenceObject, w domain.Wcs) {
	for _, obj := range objs {
		obj.X, obj.Y = w.SkyToPixel(obj.Coord)
	}
}

// columnIndex resolves an optional column name, -1 if unnamed or
// absent.
func (l *CSVLoader) columnIndex(name string) int {
	if name == "" {
		return -1
	}
	idx, ok := l.header[name]
	if !ok {
		return -1
	}
	return idx
}

// magColumnIndex resolves the per-filter column with a default
// fallback.
func (l *CSVLoader) magColumnIndex(byFilter map[string]string, fallback, filterName string) int {
	if name, ok := byFilter[filterName]; ok {
		return l.columnIndex(name)
	}
	return l.columnIndex(fallback)
}

// parseFloatColumn returns the parsed value or NaN for an absent or
// malformed cell.
func parseFloatColumn(row []string, idx int) float64 {
	if idx < 0 || idx >= len(row) {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(row[idx]), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// parseTriState returns the flag value, defaulting to unknown for an
// absent column or unparseable cell.
func parseTriState(row []string, idx int) domain.TriState {
	if idx < 0 || idx >= len(row) {
		return domain.TriStateUnknown
	}
	switch strings.ToLower(strings.TrimSpace(row[idx])) {
	case "1", "true", "t", "yes":
		return domain.TriStateTrue
	case "0", "false", "f", "no":
		return domain.TriStateFalse
	default:
		return domain.TriStateUnknown
	}
}
