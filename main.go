// Package main is the entry point for the astrofit CLI application.
// astrofit fits a distortion-corrected tangent-plane WCS by matching
// detected sources against a reference catalog.
package main

import (
	"io"
	"os"

	"github.com/observatory-dev/astrofit/cmd"
	logadapter "github.com/observatory-dev/astrofit/internal/adapters/logger"
	"github.com/observatory-dev/astrofit/internal/adapters/output"
	"github.com/observatory-dev/astrofit/internal/adapters/refcat"
	"github.com/observatory-dev/astrofit/internal/adapters/solver"
	"github.com/observatory-dev/astrofit/internal/domain"
	"github.com/observatory-dev/astrofit/internal/fit"
	"github.com/observatory-dev/astrofit/internal/infrastructure/config"
	"github.com/observatory-dev/astrofit/internal/match"
	"github.com/observatory-dev/astrofit/internal/usecases"
)

func main() {
	// Wire up production dependencies
	deps := &cmd.Dependencies{
		LoggerFactory: func(level string) (cmd.Logger, error) {
			return logadapter.New(level)
		},

		ConfigLoader: config.Load,

		SourceReader: refcat.ReadSources,

		LoaderFactory: func(path string, cfg *config.Config, log cmd.Logger) (domain.ReferenceLoader, error) {
			opts := refcat.DefaultOptions()
			if sd := cfg.SolverData; sd != nil {
				if sd.IDColumn != "" {
					opts.IDColumn = sd.IDColumn
				}
				if sd.DefaultMagColumn != "" {
					opts.DefaultMagColumn = sd.DefaultMagColumn
				}
				if sd.MagColumnMap != nil {
					opts.MagColumns = sd.MagColumnMap
				}
				if sd.MagErrColumnMap != nil {
					opts.MagErrColumns = sd.MagErrColumnMap
				}
				if sd.DefaultMagErrColumn != "" {
					opts.DefaultMagErrColumn = sd.DefaultMagErrColumn
				}
				if sd.StarGalaxyColumn != "" {
					opts.StarGalaxyColumn = sd.StarGalaxyColumn
				}
				if sd.VariableColumn != "" {
					opts.VariableColumn = sd.VariableColumn
				}
			}
			return refcat.NewCSVLoader(path, opts, log)
		},

		SolverFactory: func(cfg *config.Config, log cmd.Logger) (domain.BlindSolver, error) {
			if cfg.SolverData == nil || len(cfg.SolverData.IndexFiles) == 0 {
				return nil, nil
			}
			return solver.New(solver.NewDefaultEngine(), cfg.SolverData.IndexFiles, log), nil
		},

		CalibratorFactory: func(
			loader domain.ReferenceLoader,
			blind domain.BlindSolver,
			calCfg usecases.Config,
			log cmd.Logger,
		) domain.Calibrator {
			return usecases.NewCalibrator(loader, blind, match.New(log), fit.New(), calCfg, log)
		},

		OutputWriterFactory: func(out io.Writer) cmd.ResultWriter {
			return output.NewWriterWithOutput(out)
		},

		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}

	cmd.SetDefaultDependencies(deps)
	cmd.Execute()
}
