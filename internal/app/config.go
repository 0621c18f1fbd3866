package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"torrentsqlite/internal/domain"
	"torrentsqlite/internal/telemetry"
)

type Config struct {
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	TorrentDataDir      string        `env:"TORRENT_DATA_DIR"             envDefault:"data"`
	StorageMode         string        `env:"TORRENT_STORAGE_MODE"         envDefault:"memory"`
	MemoryLimitBytes    int64         `env:"TORRENT_MEMORY_LIMIT_BYTES"   envDefault:"0"`
	MemorySpillDir      string        `env:"TORRENT_MEMORY_SPILL_DIR"`
	ListenPort          int           `env:"TORRENT_LISTEN_PORT"          envDefault:"0"`
	DisableUTP          bool          `env:"TORRENT_DISABLE_UTP"          envDefault:"false"`
	DisableTCP          bool          `env:"TORRENT_DISABLE_TCP"          envDefault:"false"`
	DisableIPv6         bool          `env:"TORRENT_DISABLE_IPV6"         envDefault:"false"`
	NoDHT               bool          `env:"TORRENT_NO_DHT"               envDefault:"false"`
	NoUpload            bool          `env:"TORRENT_NO_UPLOAD"            envDefault:"false"`
	DownloadRateLimit   int64         `env:"TORRENT_DOWNLOAD_RATE_LIMIT"  envDefault:"0"`
	MetadataTimeout     time.Duration `env:"TORRENT_METADATA_TIMEOUT"     envDefault:"2m"`
	MaxEstablishedConns int           `env:"TORRENT_MAX_CONNS"            envDefault:"0"`
	MaxOutstandingReqs  int           `env:"TORRENT_MAX_OUTSTANDING_REQUESTS" envDefault:"4"`
	Trackers            []string      `env:"TORRENT_TRACKERS"             envSeparator:","`

	OpenTimeout  time.Duration `env:"VFS_OPEN_TIMEOUT"  envDefault:"5m"`
	PieceTimeout time.Duration `env:"VFS_PIECE_TIMEOUT" envDefault:"2m"` // 0 = wait without bound
	PollInterval time.Duration `env:"VFS_POLL_INTERVAL" envDefault:"25ms"`

	MetricsAddr    string  `env:"METRICS_ADDR"`
	OTelEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelSampleRate float64 `env:"OTEL_TRACE_SAMPLE_RATE"      envDefault:"0.1"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	cfg.StorageMode = strings.ToLower(strings.TrimSpace(cfg.StorageMode))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch domain.StorageMode(c.StorageMode) {
	case domain.StorageMemory, domain.StorageDisk:
	default:
		return fmt.Errorf("TORRENT_STORAGE_MODE: unknown mode %q", c.StorageMode)
	}
	if c.MemoryLimitBytes < 0 {
		return fmt.Errorf("TORRENT_MEMORY_LIMIT_BYTES: must not be negative")
	}
	if c.DownloadRateLimit < 0 {
		return fmt.Errorf("TORRENT_DOWNLOAD_RATE_LIMIT: must not be negative")
	}
	if c.MaxOutstandingReqs < 0 {
		return fmt.Errorf("TORRENT_MAX_OUTSTANDING_REQUESTS: must not be negative")
	}
	if c.PieceTimeout < 0 {
		return fmt.Errorf("VFS_PIECE_TIMEOUT: must not be negative")
	}
	return nil
}

func (c Config) SessionSettings() domain.SessionSettings {
	return domain.SessionSettings{
		DataDir:           c.TorrentDataDir,
		StorageMode:       domain.StorageMode(c.StorageMode),
		MemoryLimitBytes:  c.MemoryLimitBytes,
		MemorySpillDir:    c.MemorySpillDir,
		ListenPort:        c.ListenPort,
		DisableUTP:        c.DisableUTP,
		DisableTCP:        c.DisableTCP,
		DisableIPv6:       c.DisableIPv6,
		NoDHT:             c.NoDHT,
		NoUpload:          c.NoUpload,
		DownloadRateLimit: c.DownloadRateLimit,
		MetadataTimeout:   c.MetadataTimeout,

		MaxOutstandingRequests: c.MaxOutstandingReqs,
	}
}

func (c Config) AttachSettings() domain.AttachSettings {
	trackers := make([]string, 0, len(c.Trackers))
	for _, tr := range c.Trackers {
		if tr = strings.TrimSpace(tr); tr != "" {
			trackers = append(trackers, tr)
		}
	}
	return domain.AttachSettings{
		MaxEstablishedConns: c.MaxEstablishedConns,
		Trackers:            trackers,
	}
}

// FetcherPieceTimeout converts the configured timeout to the piece fetcher
// convention, where a negative value waits without bound.
func (c Config) FetcherPieceTimeout() time.Duration {
	if c.PieceTimeout == 0 {
		return -1
	}
	return c.PieceTimeout
}

func (c Config) Telemetry() telemetry.Config {
	return telemetry.Config{Endpoint: c.OTelEndpoint, SampleRate: c.OTelSampleRate}
}
