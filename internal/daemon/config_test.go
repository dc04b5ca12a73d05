package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/seednet/seednet/internal/domain"
	"github.com/seednet/seednet/internal/infra/seeddb"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8090, cfg.API.Port)
	assert.Equal(t, 3, cfg.DHT.Redundancy)
	assert.Equal(t, 32, cfg.DHT.SmallNetworkThreshold)
	assert.Equal(t, 0.2, cfg.DHT.SearchDistanceGuard)
	assert.Equal(t, 30, cfg.News.MaxDistribution)
	assert.Equal(t, 336*time.Hour, cfg.News.MaxAge)
	assert.Equal(t, 48*time.Hour, cfg.News.Aging[string(domain.CategoryCrawlStart)])
	assert.Equal(t, 5*time.Second, cfg.Network.PingTimeout)
	assert.Equal(t, 300*time.Second, cfg.Network.TransferTimeout)
	assert.Equal(t, 4096, cfg.Storage.CacheSize)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFile_Missing(t *testing.T) {
	cfg, err := LoadConfigFile(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().API, cfg.API)
}

func TestLoadConfigFile_Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[node]
name = "alpha"
port = 9000
tags = ["jazz", "blues"]

[dht]
redundancy = 5
partition_exponent = 2

[news]
max_age = "72h"
url_deny = ["spam.example"]

[news.aging]
crwlstrt = "12h"

[network]
bootstrap = ["203.0.113.1:8090"]
publish_interval = "30s"
ping_timeout = "2s"
`), 0o600))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, "alpha", cfg.Node.Name)
	assert.Equal(t, 9000, cfg.AdvertisedPort())
	assert.Equal(t, 5, cfg.DHT.Redundancy)
	assert.Equal(t, 72*time.Hour, cfg.News.MaxAge)
	assert.Equal(t, 12*time.Hour, cfg.News.Aging["crwlstrt"])
	assert.Equal(t, 30*time.Second, cfg.Network.PublishInterval)

	net := cfg.NetworkConfig()
	assert.Equal(t, []string{"203.0.113.1:8090"}, net.Bootstrap)
	assert.Equal(t, 5, net.DHT.Redundancy)
	assert.Equal(t, 2, net.DHT.PartitionExponent)
	assert.Equal(t, 12*time.Hour, net.News.Aging[domain.CategoryCrawlStart])
	assert.Equal(t, []string{"spam.example"}, net.News.DenyHosts)
	assert.Equal(t, 24*time.Hour, net.Lifecycle.StaleAfter)

	tr := cfg.TransportConfig()
	assert.Equal(t, 2*time.Second, tr.PingTimeout)
	assert.Equal(t, 30*time.Second, tr.QueryTimeout)
}

func TestLoadConfigFile_Invalid(t *testing.T) {
	tests := map[string]string{
		"exponent":   "[dht]\npartition_exponent = 7\n",
		"redundancy": "[dht]\nredundancy = 0\n",
		"category":   "[news.aging]\nbogus = \"1h\"\n",
		"level":      "[logging]\nlevel = \"loud\"\n",
		"syntax":     "[dht\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
			_, err := LoadConfigFile(path)
			assert.Error(t, err)
		})
	}
}

func TestHome(t *testing.T) {
	t.Setenv("SEEDNET_HOME", "/srv/seednet")
	assert.Equal(t, "/srv/seednet", Home())
	assert.Equal(t, "/srv/seednet", DefaultConfig().HomeDir())

	cfg := DefaultConfig()
	cfg.Node.Home = "/elsewhere"
	assert.Equal(t, "/elsewhere", cfg.HomeDir())
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LoggingConfig{Level: "debug", Development: true})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))

	logger, err = NewLogger(LoggingConfig{Level: "warn"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))

	_, err = NewLogger(LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}

// ─── Wiring ─────────────────────────────────────────────────────────────────

func TestSelfRecord(t *testing.T) {
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	cfg := DefaultConfig()
	cfg.Node.Name = "alpha"
	cfg.Node.Tags = []string{"jazz"}

	fresh := selfRecord(cfg, "SELFSELFSELF", nil, now)
	assert.Equal(t, "alpha", fresh.Name)
	assert.Equal(t, 8090, fresh.Port)
	assert.Equal(t, domain.ClassSenior, fresh.Class)
	assert.True(t, fresh.AcceptsRemoteIndex())
	assert.True(t, fresh.BirthDate.Equal(now))

	stored := fresh.Clone()
	stored.IndexSent = 42
	stored.BirthDate = now.Add(-48 * time.Hour)
	later := selfRecord(cfg, "SELFSELFSELF", stored, now.Add(time.Hour))
	assert.Equal(t, int64(42), later.IndexSent)
	assert.True(t, later.BirthDate.Equal(stored.BirthDate))

	other := selfRecord(cfg, "OTHEROTHEROT", stored, now)
	assert.Zero(t, other.IndexSent)
}

func TestNewDaemon(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Node.Home = t.TempDir()
	cfg.Node.Name = "alpha"
	cfg.Network.Bootstrap = []string{"203.0.113.1:8090"}
	cfg.Telemetry.Prometheus = true

	d, err := newDaemon(cfg, clock.NewMock(), zap.NewNop())
	require.NoError(t, err)

	self := d.Network.Directory().Self()
	require.NotNil(t, self)
	assert.Equal(t, d.Keypair.PeerID(), self.ID)
	assert.Equal(t, "alpha", self.Name)
	assert.Equal(t, 0, d.Network.Directory().Size(seeddb.Connected))

	id, err := d.DB.GetNodeInfo("peer_id")
	require.NoError(t, err)
	assert.Equal(t, string(self.ID), id)
	require.NoError(t, d.Close())

	// The identity survives a restart.
	d2, err := newDaemon(cfg, clock.NewMock(), zap.NewNop())
	require.NoError(t, err)
	defer d2.Close()
	assert.Equal(t, self.ID, d2.Network.Directory().SelfID())
}
