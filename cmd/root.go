// Package cmd provides the CLI commands for astrofit.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/observatory-dev/astrofit/internal/domain"
	"github.com/observatory-dev/astrofit/internal/infrastructure/config"
	"github.com/observatory-dev/astrofit/internal/usecases"
	"github.com/observatory-dev/astrofit/internal/wcs"
)

// Logger defines the logging interface used by the command.
type Logger interface {
	Info(ctx context.Context, msg string, fields map[string]any)
	Debug(ctx context.Context, msg string, fields map[string]any)
	Warn(ctx context.Context, msg string, fields map[string]any)
	Error(ctx context.Context, msg string, err error, fields map[string]any)
}

// ResultWriter writes the calibration result to the output destination.
type ResultWriter interface {
	WriteResult(res *domain.CalibrationResult) error
}

// Dependencies holds all injectable dependencies for the command.
// This enables testing by allowing mock implementations to be injected.
type Dependencies struct {
	// LoggerFactory creates a logger at the given level.
	LoggerFactory func(level string) (Logger, error)

	// ConfigLoader loads application configuration.
	ConfigLoader func() (*config.Config, error)

	// SourceReader reads the detected source table.
	SourceReader func(path string) ([]*domain.Source, error)

	// LoaderFactory creates a ReferenceLoader for the given catalog path.
	LoaderFactory func(path string, cfg *config.Config, log Logger) (domain.ReferenceLoader, error)

	// SolverFactory creates a BlindSolver, or nil when no solver data is
	// configured.
	SolverFactory func(cfg *config.Config, log Logger) (domain.BlindSolver, error)

	// CalibratorFactory creates a Calibrator with the given dependencies.
	CalibratorFactory func(
		loader domain.ReferenceLoader,
		solver domain.BlindSolver,
		calCfg usecases.Config,
		log Logger,
	) domain.Calibrator

	// OutputWriterFactory creates a ResultWriter on the given stream.
	OutputWriterFactory func(out io.Writer) ResultWriter

	// Stdout is the writer for the calibration summary.
	Stdout io.Writer

	// Stderr is the writer for warnings and errors.
	Stderr io.Writer
}

// Command-line flags.
var (
	sourcesPath   string
	refcatPath    string
	width         int
	height        int
	filterName    string
	raHint        float64
	decHint       float64
	scaleHint     float64
	forceKnownWcs bool
	sipOrder      int
	maxIter       int
	matchDist     float64
	verbose       bool
)

// defaultDeps holds the production dependencies.
// This is set by the production wiring in main or via SetDefaultDependencies.
var defaultDeps *Dependencies

// SetDefaultDependencies sets the default dependencies for production use.
// This should be called from main() before Execute().
func SetDefaultDependencies(deps *Dependencies) {
	defaultDeps = deps
}

// NewRootCmd creates the root command for astrofit.
func NewRootCmd() *cobra.Command {
	return NewRootCmdWithDeps(defaultDeps)
}

// NewRootCmdWithDeps creates the root command with explicit dependencies.
// This is the primary constructor that enables testing via dependency injection.
func NewRootCmdWithDeps(deps *Dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "astrofit",
		Short: "Fit a distortion-corrected WCS from detected sources and a reference catalog",
		Long: `astrofit determines the astrometric solution (WCS) of an image by
matching detected sources against a reference catalog and fitting a
TAN-SIP tangent-plane model with polynomial distortion.

An initial WCS can come from RA/Dec/scale hints at the image center, or
be blind-solved when index files are configured via
ASTROFIT_SOLVER_CONFIG. The fitted solution and field metadata are
written to stdout as KEY VALUE lines.

Examples:
  # Calibrate with an approximate pointing
  astrofit --sources det.csv --refcat gaia.csv --width 4096 --height 4096 \
    --ra 150.117 --dec 2.205 --scale 0.168

  # Trust the supplied WCS and only match
  astrofit --sources det.csv --refcat gaia.csv --width 4096 --height 4096 \
    --ra 150.117 --dec 2.205 --scale 0.168 --force-known-wcs

  # Blind solve (requires configured index files)
  astrofit --sources det.csv --refcat gaia.csv --width 4096 --height 4096

  # Enable verbose logging
  astrofit -v ...`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCalibrate(cmd, deps)
		},
	}

	// Define flags
	rootCmd.Flags().StringVar(&sourcesPath, "sources", "", "Path to the detected source CSV (required)")
	rootCmd.Flags().StringVar(&refcatPath, "refcat", "", "Path to the reference catalog CSV (required)")
	rootCmd.Flags().IntVar(&width, "width", 0, "Image width in pixels (required)")
	rootCmd.Flags().IntVar(&height, "height", 0, "Image height in pixels (required)")
	rootCmd.Flags().StringVar(&filterName, "filter", "", "Filter band of the observation")
	rootCmd.Flags().Float64Var(&raHint, "ra", 0, "Approximate field-center RA in degrees")
	rootCmd.Flags().Float64Var(&decHint, "dec", 0, "Approximate field-center Dec in degrees")
	rootCmd.Flags().Float64Var(&scaleHint, "scale", 0, "Approximate pixel scale in arcsec/pixel")
	rootCmd.Flags().BoolVar(&forceKnownWcs, "force-known-wcs", false,
		"Trust the supplied WCS: match once, skip fitting")
	rootCmd.Flags().IntVar(&sipOrder, "sip-order", 4, "SIP distortion polynomial order (<2 disables distortion)")
	rootCmd.Flags().IntVar(&maxIter, "max-iter", 3, "Maximum match-and-fit iterations")
	rootCmd.Flags().Float64Var(&matchDist, "match-dist", 3, "Initial match tolerance in arcseconds")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose/debug logging")

	for _, name := range []string{"sources", "refcat", "width", "height"} {
		if err := rootCmd.MarkFlagRequired(name); err != nil {
			panic(err)
		}
	}

	return rootCmd
}

// runCalibrate executes the calibration with injected dependencies.
func runCalibrate(cmd *cobra.Command, deps *Dependencies) error {
	if deps == nil {
		return errors.New("dependencies not configured")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	stdout := deps.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	// Load configuration
	cfg, err := deps.ConfigLoader()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	log, err := deps.LoggerFactory(level)
	if err != nil {
		return fmt.Errorf("logger error: %w", err)
	}

	log.Info(ctx, "starting astrofit", map[string]any{
		"sources": sourcesPath,
		"refcat":  refcatPath,
		"width":   width,
		"height":  height,
		"filter":  filterName,
	})

	sources, err := deps.SourceReader(sourcesPath)
	if err != nil {
		log.Error(ctx, "failed to read sources", err, nil)
		return err
	}

	loader, err := deps.LoaderFactory(refcatPath, cfg, log)
	if err != nil {
		log.Error(ctx, "failed to open reference catalog", err, nil)
		return err
	}

	solver, err := deps.SolverFactory(cfg, log)
	if err != nil {
		log.Error(ctx, "failed to initialize blind solver", err, nil)
		return err
	}
	if solver != nil {
		defer func() {
			if closeErr := solver.Close(); closeErr != nil {
				log.Warn(ctx, "failed to close blind solver", map[string]any{
					"error": closeErr.Error(),
				})
			}
		}()
	}

	calCfg, initWcs := buildCalibration(cmd)
	calibrator := deps.CalibratorFactory(loader, solver, calCfg, log)

	result, err := calibrator.Calibrate(ctx, domain.CalibrationInput{
		Sources:    sources,
		Width:      width,
		Height:     height,
		InitWcs:    initWcs,
		FilterName: filterName,
	})
	if err != nil {
		log.Error(ctx, "calibration failed", err, nil)
		switch {
		case errors.Is(err, domain.ErrNotSolved):
			return fmt.Errorf("blind solve found no solution for this field")
		case errors.Is(err, domain.ErrEngineUnavailable):
			return fmt.Errorf("no initial WCS: supply --ra/--dec/--scale or configure %s", config.EnvSolverConfig)
		case errors.Is(err, domain.ErrNoReferenceObjects):
			return fmt.Errorf("reference catalog does not cover the field")
		case errors.Is(err, domain.ErrNoMatches):
			return fmt.Errorf("no source/reference matches; check the initial WCS")
		}
		return err
	}

	writer := deps.OutputWriterFactory(stdout)
	if err := writer.WriteResult(result); err != nil {
		log.Error(ctx, "failed to write output", err, nil)
		return fmt.Errorf("output error: %w", err)
	}

	log.Info(ctx, "calibration written", map[string]any{
		"matches":        result.Matches.Len(),
		"scatter_arcsec": result.ScatterOnSky.AsArcseconds(),
	})
	return nil
}

// buildCalibration derives the calibration policy and, when a full
// pointing hint is present, an initial WCS at the image center.
func buildCalibration(cmd *cobra.Command) (usecases.Config, domain.Wcs) {
	calCfg := usecases.DefaultConfig()
	calCfg.ForceKnownWcs = forceKnownWcs
	calCfg.MaxIter = maxIter
	calCfg.MatchDistance = domain.AngleFromArcsec(matchDist)
	calCfg.SipOrder = sipOrder
	calCfg.DoTrimSources = true

	// Flag presence, not value, decides whether a pointing was given:
	// RA 0, Dec 0 is a real place on the sky.
	haveCenter := cmd.Flags().Changed("ra") || cmd.Flags().Changed("dec")
	haveScale := scaleHint > 0
	if haveCenter {
		calCfg.CenterHint = &domain.SkyCoord{RA: raHint, Dec: decHint}
	} else {
		calCfg.UseRaDecCenter = false
	}
	if haveScale {
		calCfg.PixelScaleHint = domain.AngleFromArcsec(scaleHint)
	} else {
		calCfg.UsePixelScale = false
	}
	calCfg.UseParity = false

	var initWcs domain.Wcs
	if haveCenter && haveScale {
		cd := wcs.MakeCdMatrix(domain.AngleFromArcsec(scaleHint), 0, true)
		initWcs = wcs.NewTanWcs(float64(width)/2, float64(height)/2,
			domain.SkyCoord{RA: raHint, Dec: decHint}, cd)
	}
	return calCfg, initWcs
}

// Execute runs the root command.
func Execute() {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
