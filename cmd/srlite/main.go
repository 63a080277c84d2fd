package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"

	"srlite/pkg/config"
	"srlite/pkg/diagnostics"
	"srlite/pkg/pipeline"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes the command line and returns the process exit code
func run(args []string) int {
	// Parse command line arguments
	flags := flag.NewFlagSet("srlite", flag.ContinueOnError)
	configPath := flags.String("config", "srlite.yaml", "Path to the YAML configuration file")
	initConfig := flags.Bool("init-config", false, "Write a default configuration file to -config and exit")
	targetPath := flags.String("target", "", "Reference (surface reflectance) raster")
	toaPath := flags.String("toa", "", "Full-resolution TOA raster")
	cloudMaskPath := flags.String("cloudmask", "", "Cloud-mask raster")
	toaDir := flags.String("toa-dir", "", "Directory of *-toa rasters to process in batch")
	targetDir := flags.String("target-dir", "", "Directory of *-target rasters (batch mode)")
	cloudMaskDir := flags.String("cloudmask-dir", "", "Directory of *-toa.clouds rasters (batch mode)")
	outputDir := flags.String("output-dir", "", "Directory receiving the corrected stacks")
	model := flags.String("model", "", "Regression model: ols, huber or rma")
	workers := flags.Int("workers", 0, "Number of band pairs processed concurrently")
	clean := flags.Bool("clean", false, "Remove existing outputs before writing")
	logFile := flags.String("log", "", "Also write the log to this file")
	debug := flags.Int("debug", -1, "Debug level: 0 none, 1 trace, 2 trace and quicklooks")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			logrus.Errorf("Failed to write default configuration: %v", err)
			return 1
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return 0
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logrus.Errorf("Failed to load configuration: %v", err)
		return 1
	}

	// Command line flags override the configuration file
	setString(&cfg.Input.TargetPath, *targetPath)
	setString(&cfg.Input.TOAPath, *toaPath)
	setString(&cfg.Input.CloudMaskPath, *cloudMaskPath)
	setString(&cfg.Input.TOADir, *toaDir)
	setString(&cfg.Input.TargetDir, *targetDir)
	setString(&cfg.Input.CloudMaskDir, *cloudMaskDir)
	setString(&cfg.Output.Dir, *outputDir)
	setString(&cfg.Output.LogFile, *logFile)
	setString(&cfg.Regression.Model, *model)
	if *workers > 0 {
		cfg.Processing.NumWorkers = *workers
	}
	if *clean {
		cfg.Output.Clean = true
	}
	if *debug >= 0 {
		cfg.Output.DebugLevel = *debug
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		logrus.Errorf("Failed to open log file: %v", err)
		return 1
	}
	defer closeLog()

	if err := cfg.Validate(); err != nil {
		logger.Errorf("Invalid configuration: %v", err)
		return 1
	}
	batch := cfg.Input.TOADir != ""
	if !batch && (cfg.Input.TargetPath == "" || cfg.Input.TOAPath == "") {
		flags.Usage()
		return 1
	}

	sink, err := newSink(cfg, logger)
	if err != nil {
		logger.Errorf("Failed to set up diagnostics: %v", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	store := newStore()
	p := pipeline.NewPipeline(cfg, store, newAligner(store), sink, logger)

	startTime := time.Now()
	if batch {
		results, err := p.ProcessBatch(ctx)
		if err != nil {
			logger.Errorf("Batch failed: %v", err)
			return 1
		}
		failed := 0
		for _, r := range results {
			if r.Err != nil {
				failed++
			}
		}
		logger.WithFields(logrus.Fields{
			"scenes": len(results),
			"failed": failed,
		}).Infof("Batch completed in %.2f seconds", time.Since(startTime).Seconds())
		if failed > 0 {
			return 1
		}
		return 0
	}

	res, err := p.Process(ctx, pipeline.SingleSceneParams(cfg))
	if err != nil {
		logger.Errorf("Correction failed: %v", err)
		return 1
	}
	for _, s := range res.Skipped {
		logger.Warnf("Band pair %s was skipped: %v", s.Pair, s.Err)
	}
	logger.Infof("Corrected stack saved to %s in %.2f seconds", res.OutputPath, time.Since(startTime).Seconds())
	return 0
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

// newLogger configures logrus from the output section, teeing to the log file when set
func newLogger(cfg *config.Config) (*logrus.Logger, func(), error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if cfg.Output.DebugLevel >= 1 {
		logger.SetLevel(logrus.DebugLevel)
	}
	if cfg.Output.LogFile == "" {
		return logger, func() {}, nil
	}

	file, err := os.OpenFile(cfg.Output.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}
	logger.SetOutput(io.MultiWriter(os.Stderr, file))
	return logger, func() { file.Close() }, nil
}

// newSink picks the diagnostics sinks for the debug level
func newSink(cfg *config.Config, logger logrus.FieldLogger) (diagnostics.Sink, error) {
	var sinks diagnostics.Multi
	if cfg.Output.DebugLevel >= 1 {
		sinks = append(sinks, diagnostics.NewLogSink(logger))
	}
	if cfg.Output.Quicklooks || cfg.Output.DebugLevel >= 2 {
		ql, err := diagnostics.NewQuicklookSink(cfg.Output.DiagnosticsDir, logger)
		if err != nil {
			return nil, err
		}
		logger.WithField("dir", ql.Dir()).Info("Writing quicklooks")
		sinks = append(sinks, ql)
	}
	if len(sinks) == 0 {
		return diagnostics.NullSink{}, nil
	}
	return sinks, nil
}
