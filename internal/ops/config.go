package ops

import (
	"encoding/json"
	"os"
	"time"

	"main/internal/errors"
	"main/internal/ledger"
	"main/internal/position"
	"main/internal/retention"
	"main/internal/rolling"
	"main/internal/schema"
	"main/internal/signal"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Registry   RegistryConfig     `json:"registry"`
	Engine     EngineConfig       `json:"engine"`
	Signal     SignalConfig       `json:"signal"`
	Rolling    RollingConfig      `json:"rolling"`
	Retention  RetentionConfig    `json:"retention"`
	Ledger     LedgerConfig       `json:"ledger"`
	Checkpoint CheckpointConfig   `json:"checkpoint"`
	Features   FeatureFlagsConfig `json:"features"`
}

// RegistryConfig lists the tracked symbols and known strategies.
type RegistryConfig struct {
	Symbols    []string `json:"symbols"`
	Strategies []string `json:"strategies"`
}

// EngineConfig tunes the ingest pipeline.
type EngineConfig struct {
	Workers          int   `json:"workers"`
	QueueCapacity    int   `json:"queueCapacity"`
	ReorderWindowMs  int64 `json:"reorderWindowMs"`
	DedupCapacity    int   `json:"dedupCapacity"`
	SubscriberBuffer int   `json:"subscriberBuffer"`
}

// SignalConfig tunes the indicator service.
type SignalConfig struct {
	ShortPeriod      int   `json:"shortPeriod"`
	LongPeriod       int   `json:"longPeriod"`
	RSIPeriod        int   `json:"rsiPeriod"`
	StalenessBoundMs int64 `json:"stalenessBoundMs"`
}

// RollingConfig tunes the trailing stats window.
type RollingConfig struct {
	Window        int `json:"window"`
	Annualization int `json:"annualization"`
}

// RetentionConfig bounds data retention.
type RetentionConfig struct {
	Days             int `json:"days"`
	SweepIntervalMin int `json:"sweepIntervalMin"`
}

// LedgerConfig describes the durable store connection.
type LedgerConfig struct {
	Driver     string `json:"driver"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	User       string `json:"user"`
	Password   string `json:"password"`
	Database   string `json:"database"`
	SSLMode    string `json:"sslMode"`
	ConnString string `json:"connString"`
}

// CheckpointConfig controls periodic state checkpoints.
type CheckpointConfig struct {
	Path        string `json:"path"`
	IntervalSec int    `json:"intervalSec"`
}

// FeatureFlagsConfig captures optional runtime flags.
type FeatureFlagsConfig struct {
	EnableRetention    *bool `json:"enableRetention"`
	EnableMarkToMarket *bool `json:"enableMarkToMarket"`
	EnableProfiler     *bool `json:"enableProfiler"`
}

// FeatureFlags are resolved runtime flags.
type FeatureFlags struct {
	EnableRetention    bool
	EnableMarkToMarket bool
	EnableProfiler     bool
}

// EngineSpec is the resolved pipeline tuning.
type EngineSpec struct {
	Workers          int
	QueueCapacity    int
	ReorderWindow    time.Duration
	DedupCapacity    int
	SubscriberBuffer int
}

// RetentionSpec is the resolved retention policy plus sweep cadence.
type RetentionSpec struct {
	Policy        retention.Policy
	SweepInterval time.Duration
}

// CheckpointSpec is the resolved checkpoint destination and cadence.
type CheckpointSpec struct {
	Path     string
	Interval time.Duration
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Registry   *schema.Registry
	Engine     EngineSpec
	Positions  position.Config
	Signal     signal.Config
	Rolling    rolling.Config
	Retention  RetentionSpec
	Ledger     ledger.Option
	Checkpoint CheckpointSpec
	Features   FeatureFlags
}

// Load reads a JSON config file and resolves every section.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, errors.Validationf("parse config: %v", err)
	}

	registry, err := buildRegistry(cfg.Registry)
	if err != nil {
		return Loaded{}, err
	}
	if err := validateLedger(cfg.Ledger); err != nil {
		return Loaded{}, err
	}

	return Loaded{
		Registry: registry,
		Engine: EngineSpec{
			Workers:          cfg.Engine.Workers,
			QueueCapacity:    cfg.Engine.QueueCapacity,
			ReorderWindow:    time.Duration(cfg.Engine.ReorderWindowMs) * time.Millisecond,
			DedupCapacity:    cfg.Engine.DedupCapacity,
			SubscriberBuffer: cfg.Engine.SubscriberBuffer,
		},
		Positions: position.Config{DedupCapacity: cfg.Engine.DedupCapacity},
		Signal: signal.Config{
			ShortPeriod:    cfg.Signal.ShortPeriod,
			LongPeriod:     cfg.Signal.LongPeriod,
			RSIPeriod:      cfg.Signal.RSIPeriod,
			StalenessBound: time.Duration(cfg.Signal.StalenessBoundMs) * time.Millisecond,
		},
		Rolling: rolling.Config{
			Window:        cfg.Rolling.Window,
			Annualization: cfg.Rolling.Annualization,
		},
		Retention: RetentionSpec{
			Policy:        retention.Policy{Days: cfg.Retention.Days},
			SweepInterval: time.Duration(cfg.Retention.SweepIntervalMin) * time.Minute,
		},
		Ledger: ledger.Option{
			Driver:     cfg.Ledger.Driver,
			Host:       cfg.Ledger.Host,
			Port:       cfg.Ledger.Port,
			User:       cfg.Ledger.User,
			Password:   cfg.Ledger.Password,
			Database:   cfg.Ledger.Database,
			SSLMode:    cfg.Ledger.SSLMode,
			ConnString: cfg.Ledger.ConnString,
		},
		Checkpoint: CheckpointSpec{
			Path:     cfg.Checkpoint.Path,
			Interval: time.Duration(cfg.Checkpoint.IntervalSec) * time.Second,
		},
		Features: resolveFeatures(cfg.Features),
	}, nil
}

// LoadRegistry reads a JSON config file and only builds the registry.
func LoadRegistry(path string) (*schema.Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Validationf("parse config: %v", err)
	}
	return buildRegistry(cfg.Registry)
}

func buildRegistry(cfg RegistryConfig) (*schema.Registry, error) {
	if len(cfg.Symbols) == 0 {
		return nil, errors.Validationf("registry has no symbols")
	}
	if len(cfg.Strategies) == 0 {
		return nil, errors.Validationf("registry has no strategies")
	}
	reg := schema.NewRegistry()
	for _, symbol := range cfg.Symbols {
		if err := reg.AddSymbol(symbol); err != nil {
			return nil, errors.Validationf("registry: %v", err)
		}
	}
	for _, strategy := range cfg.Strategies {
		if err := reg.AddStrategy(strategy); err != nil {
			return nil, errors.Validationf("registry: %v", err)
		}
	}
	return reg, nil
}

func validateLedger(cfg LedgerConfig) error {
	switch cfg.Driver {
	case "", ledger.DriverPostgres:
		return nil
	case ledger.DriverSQLite:
		if cfg.ConnString == "" {
			return errors.Validationf("ledger: sqlite driver requires connString")
		}
		return nil
	default:
		return errors.Validationf("ledger: unknown driver %q", cfg.Driver)
	}
}

func resolveFeatures(cfg FeatureFlagsConfig) FeatureFlags {
	flags := FeatureFlags{
		EnableRetention:    true,
		EnableMarkToMarket: true,
		EnableProfiler:     false,
	}
	if cfg.EnableRetention != nil {
		flags.EnableRetention = *cfg.EnableRetention
	}
	if cfg.EnableMarkToMarket != nil {
		flags.EnableMarkToMarket = *cfg.EnableMarkToMarket
	}
	if cfg.EnableProfiler != nil {
		flags.EnableProfiler = *cfg.EnableProfiler
	}
	return flags
}
