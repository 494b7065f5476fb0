// Package domain defines the core entities and interfaces for astrofit.
package domain

import (
	"math"
	"time"
)

// Angle is an angular quantity stored in radians.
type Angle float64

// AngleFromDegrees converts degrees to an Angle.
func AngleFromDegrees(deg float64) Angle {
	return Angle(deg * math.Pi / 180)
}

// AngleFromArcsec converts arcseconds to an Angle.
func AngleFromArcsec(arcsec float64) Angle {
	return Angle(arcsec / 3600 * math.Pi / 180)
}

// AsDegrees returns the angle in degrees.
func (a Angle) AsDegrees() float64 {
	return float64(a) * 180 / math.Pi
}

// AsArcseconds returns the angle in arcseconds.
func (a Angle) AsArcseconds() float64 {
	return a.AsDegrees() * 3600
}

// SkyCoord is a position on the sky in degrees (ICRS).
type SkyCoord struct {
	RA  float64
	Dec float64
}

// Separation returns the angular distance to other using the haversine
// formula, which stays accurate at the small separations matching cares
// about.
func (c SkyCoord) Separation(other SkyCoord) Angle {
	ra1 := c.RA * math.Pi / 180
	dec1 := c.Dec * math.Pi / 180
	ra2 := other.RA * math.Pi / 180
	dec2 := other.Dec * math.Pi / 180

	sinDec := math.Sin((dec2 - dec1) / 2)
	sinRA := math.Sin((ra2 - ra1) / 2)
	h := sinDec*sinDec + math.Cos(dec1)*math.Cos(dec2)*sinRA*sinRA
	return Angle(2 * math.Asin(math.Min(1, math.Sqrt(h))))
}

// Offset returns the coordinate displaced by dist along bearing (east
// of north).
func (c SkyCoord) Offset(bearing, dist Angle) SkyCoord {
	dec1 := c.Dec * math.Pi / 180
	sinD, cosD := math.Sincos(float64(dist))
	sinDec1, cosDec1 := math.Sincos(dec1)
	sinB, cosB := math.Sincos(float64(bearing))

	sinDec2 := sinDec1*cosD + cosDec1*sinD*cosB
	dec2 := math.Asin(sinDec2)
	ra2 := c.RA*math.Pi/180 + math.Atan2(sinB*sinD*cosDec1, cosD-sinDec1*sinDec2)

	raDeg := math.Mod(ra2*180/math.Pi, 360)
	if raDeg < 0 {
		raDeg += 360
	}
	return SkyCoord{RA: raDeg, Dec: dec2 * 180 / math.Pi}
}

// SourceFlags is a bitmask of detection flags on a source.
type SourceFlags uint32

const (
	// FlagStar marks a source classified as stellar.
	FlagStar SourceFlags = 1 << iota

	// FlagVariable marks a source known or suspected to be variable.
	FlagVariable
)

// Source is a point detected on an image. Pixel position and flux come
// from the caller's measurement pipeline; RA/Dec are derived fields set
// when the source is projected under a candidate WCS.
type Source struct {
	// ID is the caller-assigned source identifier.
	ID int64

	// X, Y is the measured centroid in pixels.
	X float64
	Y float64

	// XErr, YErr are per-axis centroid uncertainties in pixels.
	// NaN means the uncertainty is unknown.
	XErr float64
	YErr float64

	// Flux is the measured instrumental flux; FluxErr its uncertainty.
	Flux    float64
	FluxErr float64

	// Flags carries detection classification bits.
	Flags SourceFlags

	// RA, Dec (degrees) are derived from X, Y under the WCS most
	// recently used to match this source. Valid only for that WCS.
	RA  float64
	Dec float64
}

// TriState represents an optional catalog flag whose column may be
// missing entirely. Absent columns default to TriStateUnknown rather
// than failing the load.
type TriState int

const (
	// TriStateUnknown means the catalog did not provide the flag.
	TriStateUnknown TriState = iota

	// TriStateFalse means the flag is present and unset.
	TriStateFalse

	// TriStateTrue means the flag is present and set.
	TriStateTrue
)

// ReferenceObject is an entry from the reference catalog. Pixel
// positions are derived per-WCS by ReferenceLoader.ProjectToPixels and
// are only valid for that WCS.
type ReferenceObject struct {
	// ID is the catalog identifier.
	ID int64

	// Coord is the catalog sky position in degrees.
	Coord SkyCoord

	// X, Y is the projected pixel position under the current WCS.
	X float64
	Y float64

	// Mag is the catalog magnitude in the requested band; MagErr its
	// uncertainty. NaN means the column was missing.
	Mag    float64
	MagErr float64

	// Star reports the star/galaxy classification, if the catalog has
	// one.
	Star TriState

	// Variable reports known variability, if the catalog has one.
	Variable TriState
}

// Match pairs a reference object with a source, with their on-sky
// separation under the WCS the match was made with.
type Match struct {
	Ref      *ReferenceObject
	Src      *Source
	Distance Angle
}

// MatchList is the result of one matching pass. The one-to-one
// invariant holds: no source and no reference object appears in more
// than one match.
type MatchList struct {
	Matches []Match

	// MeanDistance and StdDevDistance describe the separation
	// distribution of the surviving matches.
	MeanDistance   Angle
	StdDevDistance Angle

	// MedianDistance is the robust scatter statistic of the list.
	MedianDistance Angle
}

// Len returns the number of matches.
func (ml *MatchList) Len() int {
	if ml == nil {
		return 0
	}
	return len(ml.Matches)
}

// BBox is an axis-aligned pixel-space bounding box.
type BBox struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

// NewBBox returns the bounding box of a width x height image with its
// origin at (0, 0).
func NewBBox(width, height float64) BBox {
	return BBox{MinX: 0, MinY: 0, MaxX: width, MaxY: height}
}

// Grown returns a copy of the box expanded by margin on every side.
func (b BBox) Grown(margin float64) BBox {
	return BBox{
		MinX: b.MinX - margin,
		MinY: b.MinY - margin,
		MaxX: b.MaxX + margin,
		MaxY: b.MaxY + margin,
	}
}

// Contains reports whether the point lies inside the box.
func (b BBox) Contains(x, y float64) bool {
	return x >= b.MinX && x <= b.MaxX && y >= b.MinY && y <= b.MaxY
}

// Center returns the box center.
func (b BBox) Center() (float64, float64) {
	return (b.MinX + b.MaxX) / 2, (b.MinY + b.MaxY) / 2
}

// Diagonal returns the length of the box diagonal.
func (b BBox) Diagonal() float64 {
	return math.Hypot(b.MaxX-b.MinX, b.MaxY-b.MinY)
}

// TrimToBBox keeps reference objects whose projected pixel position is
// inside the box grown by margin. Objects must already be projected.
func TrimToBBox(objs []*ReferenceObject, bbox BBox, margin float64) []*ReferenceObject {
	grown := bbox.Grown(margin)
	keep := make([]*ReferenceObject, 0, len(objs))
	for _, obj := range objs {
		if grown.Contains(obj.X, obj.Y) {
			keep = append(keep, obj)
		}
	}
	return keep
}

// TrimSources keeps sources whose pixel position is inside the box.
func TrimSources(sources []*Source, bbox BBox) []*Source {
	keep := make([]*Source, 0, len(sources))
	for _, s := range sources {
		if bbox.Contains(s.X, s.Y) {
			keep = append(keep, s)
		}
	}
	return keep
}

// SolveStats carries the blind engine's quality measures for a solve.
type SolveStats struct {
	// Matches is the number of star matches the engine verified.
	Matches int

	// LogOdds is the engine's log-odds confidence of the solution.
	LogOdds float64
}

// SolveRequest is the contract with the blind-matching engine. Hints
// (center, pixel scale, parity) are each paired with a "use" toggle;
// supplying a hint while disabling its toggle is a caller contract
// violation surfaced by Validate.
type SolveRequest struct {
	// Sources are the detected positions and fluxes to solve from.
	Sources []*Source

	// Width, Height is the image size in pixels. Required.
	Width  int
	Height int

	// Center is an optional field-center hint.
	Center    *SkyCoord
	UseCenter bool

	// SearchRadius bounds the search around Center. Zero means derive
	// it from the pixel scale and image diagonal.
	SearchRadius Angle

	// PixelScale is an optional per-pixel scale hint.
	PixelScale    Angle
	UsePixelScale bool

	// ScaleUncertainty is the multiplicative bound applied to
	// PixelScale to form the engine's scale search range.
	ScaleUncertainty float64

	// Parity is an optional handedness hint; nil means unconstrained.
	Parity    *bool
	UseParity bool

	// SearchRadiusScale scales the derived search radius.
	SearchRadiusScale float64

	// MaxStars caps how many of the brightest sources are sent to the
	// engine.
	MaxStars int

	// CPULimit bounds the engine's solve time. The engine aborts
	// deterministically at the limit and reports NotSolved.
	CPULimit time.Duration
}

// SolveResult is the engine's answer: a solved linear WCS with quality
// stats, or an explicit not-solved outcome.
type SolveResult struct {
	Solved bool
	Wcs    Wcs
	Stats  SolveStats
}

// MatchMetadataVersion tags the metadata record format.
const MatchMetadataVersion = 1

// MatchMetadata summarizes the solved field for downstream catalog
// regeneration. Purely derived from the final WCS and image bounds.
type MatchMetadata struct {
	// RA, Dec is the field center in degrees.
	RA  float64
	Dec float64

	// Radius is the approximate field radius in degrees.
	Radius float64

	// Version is the record format version (MatchMetadataVersion).
	Version int

	// Filter is the band name, empty if unknown.
	Filter string
}

// CalibrationInput carries the per-run inputs to the calibrator.
type CalibrationInput struct {
	// Sources is the detected source catalog.
	Sources []*Source

	// Width, Height is the image size in pixels.
	Width  int
	Height int

	// InitWcs is the initial WCS estimate, or nil to blind-solve.
	InitWcs Wcs

	// FilterName is the band of the observation, empty if unknown.
	FilterName string
}

// CalibrationResult is the outcome of a successful calibration.
type CalibrationResult struct {
	// Wcs is the fitted WCS.
	Wcs Wcs

	// InitWcs is the WCS the iteration started from (blind-solved or
	// supplied).
	InitWcs Wcs

	// Matches is the final source/reference pairing.
	Matches *MatchList

	// ScatterOnSky is the robust angular residual of the final fit.
	ScatterOnSky Angle

	// RefCat is the reference catalog covering the field.
	RefCat []*ReferenceObject

	// SolveStats is set when the initial WCS came from a blind solve.
	SolveStats *SolveStats

	// Metadata is the derived field summary.
	Metadata MatchMetadata
}

// FitResult is the outcome of a WCS fit.
type FitResult struct {
	// Wcs is the fitted WCS.
	Wcs Wcs

	// ScatterOnSky is the median angular residual of the fit.
	ScatterOnSky Angle

	// ScatterInPixels is the median pixel residual of the fit.
	ScatterInPixels float64
}
