package main

import (
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

var logLevels = map[uint8]slog.Level{
	0: slog.LevelDebug,
	1: slog.LevelInfo,
	2: slog.LevelWarn,
	3: slog.LevelError,
}

const (
	stateRepositoryLevelDB  = "leveldb"
	stateRepositoryPostgres = "postgres"

	indexerToncenter  = "toncenter"
	indexerLiteserver = "liteserver"

	offersSourceBackend = "backend"
	offersSourceADNL    = "adnl"

	contractsBuilderBackend = "backend"
	contractsBuilderLocal   = "local"
)

type System struct {
	Port            string             `env:"SYSTEM_PORT" envDefault:"9091"`
	Host            string             `env:"SYSTEM_HOST" envDefault:"127.0.0.1"`
	Domain          string             `env:"SYSTEM_DOMAIN" envDefault:"mytonstorage.org"`
	Key             ed25519.PrivateKey `env:"SYSTEM_KEY"`
	ADNLPort        string             `env:"SYSTEM_ADNL_PORT" envDefault:"16168"`
	AdminAuthTokens string             `env:"SYSTEM_ADMIN_AUTH_TOKENS" envDefault:""`
	LogLevel        uint8              `env:"SYSTEM_LOG_LEVEL" envDefault:"1"` // 0 - debug, 1 - info, 2 - warn, 3 - error
}

type Log struct {
	File       string `env:"LOG_FILE" envDefault:""`
	MaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"100"`
	MaxAgeDays int    `env:"LOG_MAX_AGE_DAYS" envDefault:"28"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"3"`
}

type Metrics struct {
	Namespace        string `env:"NAMESPACE" envDefault:"ton_storage"`
	ServerSubsystem  string `env:"SERVER_SUBSYSTEM" envDefault:"dashboard_server"`
	WorkersSubsystem string `env:"WORKERS_SUBSYSTEM" envDefault:"dashboard_workers"`
	DbSubsystem      string `env:"DB_SUBSYSTEM" envDefault:"dashboard_db"`
}

type Backend struct {
	URL              string        `env:"BACKEND_URL" envDefault:"https://mytonstorage.org"`
	Timeout          time.Duration `env:"BACKEND_TIMEOUT" envDefault:"30s"`
	OffersSource     string        `env:"BACKEND_OFFERS_SOURCE" envDefault:"backend"`
	ContractsBuilder string        `env:"BACKEND_CONTRACTS_BUILDER" envDefault:"backend"`
}

type Indexer struct {
	Kind           string        `env:"INDEXER_KIND" envDefault:"toncenter"` // toncenter | liteserver
	URL            string        `env:"INDEXER_URL" envDefault:"https://toncenter.com"`
	APIKey         string        `env:"INDEXER_API_KEY" envDefault:""`
	RPS            float64       `env:"INDEXER_RPS" envDefault:"1"`
	Timeout        time.Duration `env:"INDEXER_TIMEOUT" envDefault:"15s"`
	OpCodes        []string      `env:"INDEXER_OP_CODES" envSeparator:","`
	PageSize       int           `env:"INDEXER_PAGE_SIZE" envDefault:"50"`
	MaxAutoAdvance int           `env:"INDEXER_MAX_AUTO_ADVANCE" envDefault:"5"`
}

type Directory struct {
	URL     string        `env:"DIRECTORY_URL" envDefault:"https://mytonprovider.org"`
	Timeout time.Duration `env:"DIRECTORY_TIMEOUT" envDefault:"15s"`
}

type TON struct {
	ConfigURL string `env:"TON_CONFIG_URL" envDefault:"https://ton-blockchain.github.io/global.config.json"`
}

type Wallet struct {
	Seed            string        `env:"WALLET_SEED" envDefault:""`
	DeployFee       uint64        `env:"WALLET_DEPLOY_FEE" envDefault:"50000000"`
	ProofPeriod     uint32        `env:"WALLET_PROOF_PERIOD" envDefault:"86400"`
	DispatchTimeout time.Duration `env:"WALLET_DISPATCH_TIMEOUT" envDefault:"3m"`
	PollInterval    time.Duration `env:"WALLET_POLL_INTERVAL" envDefault:"5s"`
}

type State struct {
	Repository     string        `env:"STATE_REPOSITORY" envDefault:"leveldb"` // leveldb | postgres
	Path           string        `env:"STATE_PATH" envDefault:"./data/state"`
	Profile        string        `env:"STATE_PROFILE" envDefault:"default"`
	HydrateTimeout time.Duration `env:"STATE_HYDRATE_TIMEOUT" envDefault:"3s"`
}

type Postgress struct {
	Host     string `env:"DB_HOST"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER"`
	Password string `env:"DB_PASSWORD"`
	Name     string `env:"DB_NAME"`
}

type Config struct {
	System    System
	Log       Log
	Metrics   Metrics
	Backend   Backend
	Indexer   Indexer
	Directory Directory
	TON       TON
	Wallet    Wallet
	State     State
	DB        Postgress
}

func loadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(&cfg.System); err != nil {
		return nil, fmt.Errorf("failed to parse system config: %w", err)
	}
	if err := env.Parse(&cfg.Log); err != nil {
		return nil, fmt.Errorf("failed to parse log config: %w", err)
	}
	if err := env.Parse(&cfg.Metrics); err != nil {
		return nil, fmt.Errorf("failed to parse metrics config: %w", err)
	}
	if err := env.Parse(&cfg.Backend); err != nil {
		return nil, fmt.Errorf("failed to parse backend config: %w", err)
	}
	if err := env.Parse(&cfg.Indexer); err != nil {
		return nil, fmt.Errorf("failed to parse indexer config: %w", err)
	}
	if err := env.Parse(&cfg.Directory); err != nil {
		return nil, fmt.Errorf("failed to parse directory config: %w", err)
	}
	if err := env.Parse(&cfg.TON); err != nil {
		return nil, fmt.Errorf("failed to parse TON config: %w", err)
	}
	if err := env.Parse(&cfg.Wallet); err != nil {
		return nil, fmt.Errorf("failed to parse wallet config: %w", err)
	}
	if err := env.Parse(&cfg.State); err != nil {
		return nil, fmt.Errorf("failed to parse state config: %w", err)
	}
	if err := env.Parse(&cfg.DB); err != nil {
		return nil, fmt.Errorf("failed to parse db config: %w", err)
	}

	switch cfg.State.Repository {
	case stateRepositoryLevelDB, stateRepositoryPostgres:
	default:
		return nil, fmt.Errorf("unknown state repository %q", cfg.State.Repository)
	}

	switch cfg.Indexer.Kind {
	case indexerToncenter, indexerLiteserver:
	default:
		return nil, fmt.Errorf("unknown indexer %q", cfg.Indexer.Kind)
	}

	switch cfg.Backend.OffersSource {
	case offersSourceBackend, offersSourceADNL:
	default:
		return nil, fmt.Errorf("unknown offers source %q", cfg.Backend.OffersSource)
	}

	switch cfg.Backend.ContractsBuilder {
	case contractsBuilderBackend, contractsBuilderLocal:
	default:
		return nil, fmt.Errorf("unknown contracts builder %q", cfg.Backend.ContractsBuilder)
	}

	if cfg.System.Key == nil {
		_, priv, _ := ed25519.GenerateKey(nil)
		key := priv.Seed()
		cfg.System.Key = ed25519.NewKeyFromSeed(key)
	}

	return cfg, nil
}
