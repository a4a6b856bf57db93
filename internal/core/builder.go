package core

import (
	"portopener/config"
	"portopener/internal/errors"
	"portopener/internal/exporter"
	"portopener/internal/metrics"
	"portopener/util"
)

// Build constructs the Mode selected by cfg.  cfg must already have
// passed Validate.
func Build(cfg *config.Config, logger *util.Logger, m *metrics.Collector) (Mode, error) {
	var exp *exporter.Exporter
	if cfg.ExporterEnabled() {
		exp = exporter.New(exporter.Options{
			Port:     cfg.Port,
			Path:     cfg.MetricsFile,
			Interval: cfg.MetricsInterval,
			ProcRoot: cfg.ProcRoot,
			Logger:   logger,
		})
	}

	if cfg.ExportOnly {
		if exp == nil {
			return nil, &errors.ConfigError{
				Field:   "metrics-file",
				Message: "required with --export-only",
			}
		}
		return exp, nil
	}

	o, err := New(cfg, logger, m)
	if err != nil {
		return nil, err
	}
	if exp != nil {
		o.Exporter = exp
	}
	return o, nil
}
