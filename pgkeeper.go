package main

import (
	"context"
	"flag"
	"io"
	"os"
	"path/filepath"

	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pgkeeper/pgkeeper/admin"
	"github.com/pgkeeper/pgkeeper/cfg"
	"github.com/pgkeeper/pgkeeper/engine"
	"github.com/pgkeeper/pgkeeper/heartbeat"
	"github.com/pgkeeper/pgkeeper/notify"
	"github.com/pgkeeper/pgkeeper/registry"
	"github.com/pgkeeper/pgkeeper/supervisor"
	"github.com/pgkeeper/pgkeeper/telemetry"
)

const registryFileName = "registry.db"

func main() {
	flag.Parse()

	if err := cfg.Load(*cfg.ConfigPathFlag); err != nil {
		panic(err)
	}

	setupLogging()

	// Configuration errors are fatal at startup: refusing to run beats
	// supervising a cluster under a half-specified identity.
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	conf := cfg.Snapshot()

	hostID, err := machineid.ProtectedID("pgkeeper")
	if err != nil {
		log.Warn().Err(err).Msg("Could not derive host id")
		hostID = "unknown"
	}

	log.Info().
		Str("node", conf.NodeName).
		Str("host_id", hostID).
		Msg("pgkeeper starting")

	if conf.Prometheus.Enabled {
		telemetry.InitializeTelemetry(conf.NodeName)
		telemetry.Serve(conf.Prometheus.BindAddress, conf.Prometheus.Port)
	}

	store, err := registry.Open(filepath.Join(conf.DataDir, registryFileName))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open node registry")
	}
	defer store.Close()

	ctx := context.Background()

	eng, err := engine.Connect(ctx, conf.LocalConninfo)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to local database engine")
	}
	defer eng.Close()

	prober := heartbeat.NewClient()
	cell := notify.NewCell(conf.DataDir)
	manager := registry.NewManager(store, prober, eng, cell)

	sup := supervisor.New(store, prober, eng, cell, supervisor.Options{
		NodeName:        conf.NodeName,
		PrimaryConninfo: conf.PrimaryConninfo,
		ConfigPath:      *cfg.ConfigPathFlag,
	})

	if conf.Admin.Enabled {
		admin.Serve(conf.Admin.BindAddress, conf.Admin.Port,
			admin.NewHandlers(sup, manager, cell, hostID))
	}

	if err := sup.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Supervisor terminated abnormally")
		os.Exit(1)
	}
}

func setupLogging() {
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Str("node", cfg.Config.NodeName).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}
}
