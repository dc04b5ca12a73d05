// Package daemon manages the seednet node lifecycle and configuration.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/seednet/seednet/internal/app/dht"
	"github.com/seednet/seednet/internal/app/news"
	"github.com/seednet/seednet/internal/app/peeractions"
	"github.com/seednet/seednet/internal/app/search"
	"github.com/seednet/seednet/internal/domain"
	"github.com/seednet/seednet/internal/infra/network"
	"github.com/seednet/seednet/internal/infra/transport"
)

// maxPartitionExponent bounds the number of vertical DHT shards to 64.
const maxPartitionExponent = 6

// Config holds all daemon configuration.
type Config struct {
	Node      NodeConfig      `toml:"node"`
	API       APIConfig       `toml:"api"`
	DHT       DHTConfig       `toml:"dht"`
	News      NewsConfig      `toml:"news"`
	Network   NetworkConfig   `toml:"network"`
	Storage   StorageConfig   `toml:"storage"`
	Logging   LoggingConfig   `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// NodeConfig describes the local peer as it is announced to others.
type NodeConfig struct {
	Name string `toml:"name"`
	// Port is the advertised port. Zero advertises the API port.
	Port  int      `toml:"port"`
	Class string   `toml:"class"`
	Tags  []string `toml:"tags"`
	// Home overrides $SEEDNET_HOME for the database and keys.
	Home              string `toml:"home"`
	AcceptRemoteIndex bool   `toml:"accept_remote_index"`
}

// APIConfig controls the HTTP server.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// DHTConfig controls ranking and target selection.
type DHTConfig struct {
	Redundancy            int     `toml:"redundancy"`
	PartitionExponent     int     `toml:"partition_exponent"`
	SmallNetworkThreshold int     `toml:"small_network_threshold"`
	ResponsibilityFactor  float64 `toml:"responsibility_factor"`
	SearchDistanceGuard   float64 `toml:"search_distance_guard"`
	MaxTargetLoops        int     `toml:"max_target_loops"`
	MinVersionAcceptIndex float64 `toml:"min_version_accept_index"`
	RobinsonBurstCount    int64   `toml:"robinson_burst_count"`
}

// NewsConfig controls the news pool.
type NewsConfig struct {
	MaxDistribution int           `toml:"max_distribution"`
	MaxAge          time.Duration `toml:"max_age"`
	// Aging maps a category to its own eviction window.
	Aging         map[string]time.Duration `toml:"aging"`
	MinCrawlSpeed int                      `toml:"min_crawl_speed"`
	URLDeny       []string                 `toml:"url_deny"`
}

// NetworkConfig controls the background cycles and remote calls.
type NetworkConfig struct {
	Enabled             bool          `toml:"enabled"`
	Bootstrap           []string      `toml:"bootstrap"`
	PublishInterval     time.Duration `toml:"publish_interval"`
	SweepInterval       time.Duration `toml:"sweep_interval"`
	PublishTargets      int           `toml:"publish_targets"`
	SeedsWanted         int           `toml:"seeds_wanted"`
	Concurrency         int           `toml:"concurrency"`
	TransferMaxDistance float64       `toml:"transfer_max_distance"`
	StaleAfter          time.Duration `toml:"stale_after"`
	FeedSize            int           `toml:"feed_size"`
	SearchTargets       int           `toml:"search_targets"`

	PingTimeout     time.Duration `toml:"ping_timeout"`
	QueryTimeout    time.Duration `toml:"query_timeout"`
	SearchTimeout   time.Duration `toml:"search_timeout"`
	TransferTimeout time.Duration `toml:"transfer_timeout"`
}

// StorageConfig controls the persistence layer.
type StorageConfig struct {
	// CacheSize bounds the decoded-seed cache of each partition.
	CacheSize int `toml:"cache_size"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// TelemetryConfig controls metrics exposure.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	d := dht.DefaultConfig()
	n := news.DefaultConfig()
	net := network.DefaultConfig()
	tr := transport.DefaultConfig()
	life := peeractions.DefaultConfig()

	aging := make(map[string]time.Duration, len(n.Aging))
	for cat, window := range n.Aging {
		aging[string(cat)] = window
	}

	return Config{
		Node: NodeConfig{
			Class:             string(domain.ClassSenior),
			AcceptRemoteIndex: true,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
		},
		DHT: DHTConfig{
			Redundancy:            d.Redundancy,
			PartitionExponent:     d.PartitionExponent,
			SmallNetworkThreshold: d.SmallNetworkThreshold,
			ResponsibilityFactor:  d.ResponsibilityFactor,
			SearchDistanceGuard:   d.SearchDistanceGuard,
			MaxTargetLoops:        d.MaxTargetLoops,
			MinVersionAcceptIndex: d.MinVersionAcceptIndex,
			RobinsonBurstCount:    d.RobinsonBurstCount,
		},
		News: NewsConfig{
			MaxDistribution: n.MaxDistribution,
			MaxAge:          n.MaxAge,
			Aging:           aging,
			MinCrawlSpeed:   n.MinCrawlSpeed,
		},
		Network: NetworkConfig{
			Enabled:             true,
			PublishInterval:     net.PublishInterval,
			SweepInterval:       net.SweepInterval,
			PublishTargets:      net.PublishTargets,
			SeedsWanted:         net.SeedsWanted,
			Concurrency:         net.Concurrency,
			TransferMaxDistance: net.TransferMaxDistance,
			StaleAfter:          life.StaleAfter,
			FeedSize:            life.FeedSize,
			SearchTargets:       search.DefaultConfig().Targets,
			PingTimeout:         tr.PingTimeout,
			QueryTimeout:        tr.QueryTimeout,
			SearchTimeout:       tr.SearchTimeout,
			TransferTimeout:     tr.TransferTimeout,
		},
		Storage: StorageConfig{
			CacheSize: 4096,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Validate rejects settings the node cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.DHT.Redundancy < 1 {
		errs = append(errs, fmt.Errorf("dht.redundancy must be at least 1, got %d", c.DHT.Redundancy))
	}
	if c.DHT.PartitionExponent < 0 || c.DHT.PartitionExponent > maxPartitionExponent {
		errs = append(errs, fmt.Errorf("dht.partition_exponent must be in [0, %d], got %d", maxPartitionExponent, c.DHT.PartitionExponent))
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		errs = append(errs, fmt.Errorf("api.port out of range: %d", c.API.Port))
	}
	if c.Node.Port < 0 || c.Node.Port > 65535 {
		errs = append(errs, fmt.Errorf("node.port out of range: %d", c.Node.Port))
	}
	for cat := range c.News.Aging {
		if !domain.NewsCategory(cat).Known() {
			errs = append(errs, fmt.Errorf("news.aging: %w: %q", domain.ErrUnknownCategory, cat))
		}
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	return errors.Join(errs...)
}

// HomeDir returns the directory holding the database and keys.
func (c Config) HomeDir() string {
	if c.Node.Home != "" {
		return c.Node.Home
	}
	return Home()
}

// AdvertisedPort is the port announced in the self record.
func (c Config) AdvertisedPort() int {
	if c.Node.Port != 0 {
		return c.Node.Port
	}
	return c.API.Port
}

// NetworkConfig converts the file settings into the network context's
// configuration.
func (c Config) NetworkConfig() network.Config {
	aging := make(map[domain.NewsCategory]time.Duration, len(c.News.Aging))
	for cat, window := range c.News.Aging {
		aging[domain.NewsCategory(cat)] = window
	}
	searchCfg := search.DefaultConfig()
	if c.Network.SearchTargets > 0 {
		searchCfg.Targets = c.Network.SearchTargets
	}
	if c.Network.SearchTimeout > 0 {
		searchCfg.Timeout = c.Network.SearchTimeout
	}

	return network.Config{
		Enabled:             c.Network.Enabled,
		Bootstrap:           c.Network.Bootstrap,
		PublishInterval:     c.Network.PublishInterval,
		SweepInterval:       c.Network.SweepInterval,
		PublishTargets:      c.Network.PublishTargets,
		SeedsWanted:         c.Network.SeedsWanted,
		Concurrency:         c.Network.Concurrency,
		TransferMaxDistance: c.Network.TransferMaxDistance,
		DHT: dht.Config{
			Redundancy:            c.DHT.Redundancy,
			PartitionExponent:     c.DHT.PartitionExponent,
			SmallNetworkThreshold: c.DHT.SmallNetworkThreshold,
			ResponsibilityFactor:  c.DHT.ResponsibilityFactor,
			SearchDistanceGuard:   c.DHT.SearchDistanceGuard,
			MaxTargetLoops:        c.DHT.MaxTargetLoops,
			MinVersionAcceptIndex: c.DHT.MinVersionAcceptIndex,
			RobinsonBurstCount:    c.DHT.RobinsonBurstCount,
		},
		News: news.Config{
			MaxDistribution: c.News.MaxDistribution,
			MaxAge:          c.News.MaxAge,
			Aging:           aging,
			MinCrawlSpeed:   c.News.MinCrawlSpeed,
			DenyHosts:       c.News.URLDeny,
		},
		Lifecycle: peeractions.Config{
			StaleAfter: c.Network.StaleAfter,
			FeedSize:   c.Network.FeedSize,
		},
		Search: searchCfg,
	}
}

// TransportConfig converts the timeouts into the HTTP transport's
// configuration.
func (c Config) TransportConfig() transport.Config {
	return transport.Config{
		PingTimeout:     c.Network.PingTimeout,
		QueryTimeout:    c.Network.QueryTimeout,
		SearchTimeout:   c.Network.SearchTimeout,
		TransferTimeout: c.Network.TransferTimeout,
	}
}

// LoadConfig reads $SEEDNET_HOME/config.toml, falling back to defaults.
func LoadConfig() (Config, error) {
	return LoadConfigFile(filepath.Join(Home(), "config.toml"))
}

// LoadConfigFile reads the config at path over the defaults. A missing file
// yields the defaults.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path, creating the parent directory.
func SaveConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// Home returns the seednet data directory.
func Home() string {
	if env := os.Getenv("SEEDNET_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".seednet")
}
