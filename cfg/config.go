package cfg

import (
	"flag"
	"fmt"
	"os"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// AdminConfiguration controls the HTTP control API
type AdminConfiguration struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port" validate:"min=0,max=65535"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format" validate:"oneof=console json"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port" validate:"min=0,max=65535"`
}

// Configuration is the main configuration structure
type Configuration struct {
	// NodeName is this node's identity in the registry. Required; startup-only.
	NodeName string `toml:"node_name" validate:"required"`

	// DataDir holds the registry database and the supervisor pid cell.
	DataDir string `toml:"data_dir" validate:"required"`

	// LocalConninfo is the connection string for the node's own Postgres engine.
	LocalConninfo string `toml:"local_conninfo" validate:"required"`

	// PrimaryConninfo is the standby poll target used when the registry has no
	// master row yet. Startup-only, mirroring the engine's own setting.
	PrimaryConninfo string `toml:"primary_conninfo"`

	// KeepalivesTime is the poll interval between heartbeat cycles, in seconds.
	KeepalivesTime int `toml:"keepalives_time" validate:"min=1"`

	// KeepalivesCount is the number of consecutive heartbeat failures a standby
	// tolerates before promoting itself.
	KeepalivesCount int `toml:"keepalives_count" validate:"min=1"`

	// AfterCommand is an optional shell command run after promotion, best-effort.
	AfterCommand string `toml:"after_command"`

	Admin      AdminConfiguration      `toml:"admin"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag    = flag.String("config", "pgkeeper.toml", "Path to configuration file")
	NodeNameFlag      = flag.String("node-name", "", "Node name (overrides config)")
	DataDirFlag       = flag.String("data-dir", "", "Data directory (overrides config)")
	LocalConninfoFlag = flag.String("local-conninfo", "", "Local engine conninfo (overrides config)")
)

// Default configuration. KeepalivesTime and KeepalivesCount defaults follow the
// original keeper settings (poll every 5s, promote on the first failure).
var Config = &Configuration{
	DataDir:         "./pgkeeper-data",
	KeepalivesTime:  5,
	KeepalivesCount: 1,

	Admin: AdminConfiguration{
		Enabled:     true,
		BindAddress: "0.0.0.0",
		Port:        8432,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled:     false,
		BindAddress: "0.0.0.0",
		Port:        9187,
	},
}

var validate = validator.New()

// reloadMu guards Config swaps done by Reload against readers on the
// supervisor and admin goroutines.
var reloadMu sync.RWMutex

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *NodeNameFlag != "" {
		Config.NodeName = *NodeNameFlag
	}
	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *LocalConninfoFlag != "" {
		Config.LocalConninfo = *LocalConninfoFlag
	}

	return nil
}

// Validate checks the loaded configuration. A missing node_name or
// local_conninfo is a fatal startup error by design.
func Validate() error {
	reloadMu.RLock()
	defer reloadMu.RUnlock()

	if err := validate.Struct(Config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Reload re-reads the config file and applies only the options that are
// reloadable at runtime: keepalives_time, keepalives_count, after_command and
// logging verbosity. Identity and connection options stay fixed for the
// process lifetime. Called from the supervisor loop on SIGHUP.
func Reload(configPath string) error {
	fresh := &Configuration{
		KeepalivesTime:  Config.KeepalivesTime,
		KeepalivesCount: Config.KeepalivesCount,
		AfterCommand:    Config.AfterCommand,
		Logging:         Config.Logging,
	}
	if _, err := toml.DecodeFile(configPath, fresh); err != nil {
		return fmt.Errorf("failed to re-read config: %w", err)
	}
	if fresh.KeepalivesTime < 1 || fresh.KeepalivesCount < 1 {
		return fmt.Errorf("invalid reloaded keepalives settings: time=%d count=%d",
			fresh.KeepalivesTime, fresh.KeepalivesCount)
	}

	reloadMu.Lock()
	Config.KeepalivesTime = fresh.KeepalivesTime
	Config.KeepalivesCount = fresh.KeepalivesCount
	Config.AfterCommand = fresh.AfterCommand
	Config.Logging.Verbose = fresh.Logging.Verbose
	reloadMu.Unlock()

	// Verbosity takes effect immediately, not just on the next restart.
	level := zerolog.InfoLevel
	if fresh.Logging.Verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = log.Logger.Level(level)

	log.Info().
		Int("keepalives_time", fresh.KeepalivesTime).
		Int("keepalives_count", fresh.KeepalivesCount).
		Msg("Configuration reloaded")
	return nil
}

// Snapshot returns a copy of the current configuration, safe to use across a
// Reload happening on another goroutine.
func Snapshot() Configuration {
	reloadMu.RLock()
	defer reloadMu.RUnlock()
	return *Config
}
