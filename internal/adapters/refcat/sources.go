package refcat

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/observatory-dev/astrofit/internal/domain"
)

// ReadSources parses a detected-source table from a CSV file. The
// header must contain x and y columns; id, flux, flux_err, x_err,
// y_err, star and variable are optional.
func ReadSources(path string) ([]*domain.Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open source table: %w", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse source table %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("source table %s is empty", path)
	}

	header := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		header[strings.ToLower(strings.TrimSpace(name))] = i
	}
	xIdx, xOK := header["x"]
	yIdx, yOK := header["y"]
	if !xOK || !yOK {
		return nil, fmt.Errorf("source table %s is missing x/y columns", path)
	}
	idIdx := optionalColumn(header, "id")
	fluxIdx := optionalColumn(header, "flux")
	fluxErrIdx := optionalColumn(header, "flux_err")
	xErrIdx := optionalColumn(header, "x_err")
	yErrIdx := optionalColumn(header, "y_err")
	starIdx := optionalColumn(header, "star")
	varIdx := optionalColumn(header, "variable")

	sources := make([]*domain.Source, 0, len(records)-1)
	for i, row := range records[1:] {
		x, xParseErr := strconv.ParseFloat(strings.TrimSpace(row[xIdx]), 64)
		y, yParseErr := strconv.ParseFloat(strings.TrimSpace(row[yIdx]), 64)
		if xParseErr != nil || yParseErr != nil {
			return nil, fmt.Errorf("source table %s row %d has invalid position", path, i+2)
		}

		id := int64(i)
		if idIdx >= 0 {
			if parsed, err := strconv.ParseInt(strings.TrimSpace(row[idIdx]), 10, 64); err == nil {
				id = parsed
			}
		}
		var flags domain.SourceFlags
		if parseTriState(row, starIdx) == domain.TriStateTrue {
			flags |= domain.FlagStar
		}
		if parseTriState(row, varIdx) == domain.TriStateTrue {
			flags |= domain.FlagVariable
		}
		sources = append(sources, &domain.Source{
			ID:      id,
			X:       x,
			Y:       y,
			XErr:    parseFloatColumn(row, xErrIdx),
			YErr:    parseFloatColumn(row, yErrIdx),
			Flux:    parseFloatColumn(row, fluxIdx),
			FluxErr: parseFloatColumn(row, fluxErrIdx),
			Flags:   flags,
			RA:      math.NaN(),
			Dec:     math.NaN(),
		})
	}
	return sources, nil
}

func optionalColumn(header map[string]int, name string) int {
	idx, ok := header[name]
	if !ok {
		return -1
	}
	return idx
}
