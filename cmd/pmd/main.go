// The PMD daemon.
//
// It loads the deployment configuration, builds the component for the given
// index, brings it up to the enabled state, and publishes position reports and
// state changes to the log until interrupted.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/lsst-ts/ts-pmd/config"
	"github.com/lsst-ts/ts-pmd/csc"
	"github.com/lsst-ts/ts-pmd/logger"
)

func main() {
	configPath := flag.String("config", "pmd.yaml", "path of the configuration file")
	index := flag.Int("index", 1, "sal_index of the hub entry to serve")
	simulate := flag.Bool("simulate", false, "run against a simulated hub")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	log := logger.GetLogger()
	log.SetLevel(parseLogLevel(*logLevel))

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("failed to load configuration", "path", *configPath, "error", err)
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatal("invalid configuration", "path", *configPath, "error", err)
	}
	config.Normalize(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := []csc.Option{csc.WithLogger(log)}
	if *simulate {
		opts = append(opts, csc.WithSimulation())
	}

	pmd, err := csc.New(ctx, *index, cfg, opts...)
	if err != nil {
		log.Fatal("failed to create component", "index", *index, "error", err)
	}

	meta := pmd.Metadata()
	log.Info("component configured",
		"index", *index,
		"hubType", meta.HubType,
		"location", meta.Location,
		"names", meta.Names,
		"units", meta.Units,
	)

	pmd.AddSummaryStateHandler(func(prevState, newState csc.SummaryState) {
		log.Info("summary state", "prevState", prevState, "newState", newState)
		if newState == csc.FaultState {
			log.Error("component fault", "code", int(pmd.FaultCode()), "reason", pmd.FaultReason())
		}
	})

	pmd.AddPositionHandler(func(report csc.PositionReport) {
		log.Info("position", "positions", report.Positions.Slice(), "isok", report.IsOK)
	})

	if err := pmd.Start(ctx); err != nil {
		log.Error("failed to start component", "error", err)
		_ = pmd.Close()
		os.Exit(1)
	}

	if err := pmd.Enable(); err != nil {
		log.Error("failed to enable component", "error", err)
		_ = pmd.Close()
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("shutting down", "signal", sig)

	if pmd.SummaryState() == csc.EnabledState {
		_ = pmd.Disable()
	}
	if pmd.SummaryState() == csc.DisabledState || pmd.SummaryState() == csc.FaultState {
		_ = pmd.Standby()
	}

	if err := pmd.Close(); err != nil {
		log.Error("failed to close component", "error", err)
	}
}

func parseLogLevel(level string) logger.LogLevel {
	switch level {
	case "debug":
		return logger.DebugLevel
	case "info":
		return logger.InfoLevel
	case "warn":
		return logger.WarnLevel
	case "error":
		return logger.ErrorLevel
	default:
		return logger.InfoLevel
	}
}
