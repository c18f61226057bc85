// Package main provides the OSINT reconnaissance engine service: it wires
// the scan engine to the ops API and, optionally, drives one scan on
// startup against a seed target supplied on the command line.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/poppopjmp/spiderfoot-sub002/internal/api"
	"github.com/poppopjmp/spiderfoot-sub002/internal/api/middleware"
	"github.com/poppopjmp/spiderfoot-sub002/internal/config"
	"github.com/poppopjmp/spiderfoot-sub002/internal/engine"
	"github.com/poppopjmp/spiderfoot-sub002/internal/export"
	"github.com/poppopjmp/spiderfoot-sub002/internal/policy"
	"github.com/poppopjmp/spiderfoot-sub002/internal/registry"
	"github.com/poppopjmp/spiderfoot-sub002/internal/store"
	"github.com/poppopjmp/spiderfoot-sub002/internal/target"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "osint-scan-engine"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	seedTarget := flag.String("target", "", "seed target value to scan on startup (e.g. example.com)")
	seedType := flag.String("target-type", string(target.TypeInternetName), "seed target type")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("starting osint scan engine",
		slog.String("service", name),
		slog.String("version", version),
	)

	eventStore := store.NewMemory()
	exporters := buildExportRegistry()
	pol := loadPolicy()
	reg := registry.NewDemoRegistry()

	engineConfig := engine.DefaultConfig()
	engineConfig.KafkaBrokers, engineConfig.KafkaTopic = loadKafkaSinkConfig()
	engineConfig.DefaultOutlierNoisyPercent = config.GetEnvFloat("ENGINE_CORRELATION_NOISY_PERCENT", 0)

	eng := engine.New(logger, engineConfig, reg, eventStore, pol)

	if *seedTarget != "" {
		go runSeedScan(eng, logger, *seedTarget, target.Type(*seedType))
	}

	server := api.NewServer(&serverConfig, eventStore, exporters)

	if err := server.Start(); err != nil {
		logger.Error("server failed to start", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("osint scan engine stopped")
}

func runSeedScan(eng *engine.Engine, logger *slog.Logger, seedValue string, seedType target.Type) {
	scanID := uuid.NewString()
	correlationID := middleware.NewCorrelationID()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	logger.Info("starting scan",
		slog.String("scan_id", scanID),
		slog.String("correlation_id", correlationID),
		slog.String("target", seedValue),
		slog.String("target_type", string(seedType)),
	)

	final, err := eng.Run(ctx, scanID, seedValue, seedType)
	if err != nil {
		logger.Error("scan run failed",
			slog.String("scan_id", scanID),
			slog.String("correlation_id", correlationID),
			slog.Any("error", err),
		)

		return
	}

	logger.Info("scan finished",
		slog.String("scan_id", scanID),
		slog.String("correlation_id", correlationID),
		slog.String("final_phase", string(final)),
	)
}

func buildExportRegistry() *export.Registry {
	reg := export.NewRegistry()
	reg.Register(&export.JSONExporter{})
	reg.Register(&export.CSVExporter{})
	reg.Register(&export.STIXExporter{})
	reg.Register(&export.SummaryExporter{})

	return reg
}

// loadKafkaSinkConfig reads the optional live event-mirror sink's brokers
// and topic from the environment, mirroring the ENGINE_* convention used by
// LoadServerConfig. An empty broker list leaves the sink disabled.
func loadKafkaSinkConfig() (brokers []string, topic string) {
	brokers = config.ParseCommaSeparatedList(config.GetEnvStr("ENGINE_KAFKA_BROKERS", ""))
	topic = config.GetEnvStr("ENGINE_KAFKA_TOPIC", "osint-events")

	return brokers, topic
}

// loadPolicy builds the scan policy engine's bounds from the environment,
// mirroring the ENGINE_* convention used by LoadServerConfig.
func loadPolicy() policy.Policy {
	return policy.Policy{
		AllowedModules:    config.ParseCommaSeparatedList(config.GetEnvStr("ENGINE_ALLOWED_MODULES", "")),
		DeniedModules:     config.ParseCommaSeparatedList(config.GetEnvStr("ENGINE_DENIED_MODULES", "")),
		AllowedEventTypes: config.ParseCommaSeparatedList(config.GetEnvStr("ENGINE_ALLOWED_EVENT_TYPES", "")),
		DeniedEventTypes:  config.ParseCommaSeparatedList(config.GetEnvStr("ENGINE_DENIED_EVENT_TYPES", "")),
		MaxDepth:          config.GetEnvInt("ENGINE_MAX_DEPTH", 5),
		MaxEvents:         config.GetEnvInt("ENGINE_MAX_EVENTS", 100000),
	}
}
