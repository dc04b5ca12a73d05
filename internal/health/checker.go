// Package health runs periodic self checks with optional recovery.
package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/seednet/seednet/internal/domain"
	"github.com/seednet/seednet/internal/infra/metrics"
	"github.com/seednet/seednet/internal/infra/seeddb"
)

// Check defines a single health check with optional recovery action.
type Check struct {
	Name      string
	CheckFn   func(ctx context.Context) error
	RecoverFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Pinger is satisfied by the storage layer.
type Pinger interface {
	Ping() error
}

// Directory is the part of the peer directory the checks read.
type Directory interface {
	Self() *domain.Peer
	Size(part seeddb.Partition) int
}

// ErrIsolated is reported while no peer is connected.
var ErrIsolated = errors.New("no connected peers")

// Options wires the standard checks.
type Options struct {
	DB        Pinger
	Directory Directory
	DataDir   string
	// Rejoin is called when the node is isolated. Nil disables the
	// connectivity check.
	Rejoin   func(ctx context.Context) int
	Interval time.Duration
	Clock    clock.Clock
	Logger   *zap.Logger
}

// Checker runs periodic health checks with auto-recovery.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
	clock    clock.Clock
	logger   *zap.Logger
}

// NewChecker creates a checker with the standard checks: storage, data
// directory, self record and, when Rejoin is set, connectivity.
func NewChecker(opts Options) *Checker {
	if opts.Interval <= 0 {
		opts.Interval = 60 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	c := &Checker{interval: opts.Interval, clock: opts.Clock, logger: opts.Logger.Named("health")}
	if opts.DB != nil {
		c.Add(Check{
			Name:    "sqlite",
			CheckFn: func(ctx context.Context) error { return opts.DB.Ping() },
		})
	}
	c.Add(Check{
		Name:    "data_dir",
		CheckFn: func(ctx context.Context) error { return checkDataDir(opts.DataDir) },
		RecoverFn: func(ctx context.Context) error {
			return os.MkdirAll(opts.DataDir, 0o755)
		},
	})
	if opts.Directory != nil {
		c.Add(Check{
			Name: "self_seed",
			CheckFn: func(ctx context.Context) error {
				if opts.Directory.Self() == nil {
					return domain.ErrNoSelf
				}
				return nil
			},
		})
	}
	if opts.Directory != nil && opts.Rejoin != nil {
		c.Add(Check{
			Name: "connectivity",
			CheckFn: func(ctx context.Context) error {
				if opts.Directory.Size(seeddb.Connected) == 0 {
					return ErrIsolated
				}
				return nil
			},
			RecoverFn: func(ctx context.Context) error {
				if opts.Rejoin(ctx) == 0 {
					return ErrIsolated
				}
				return nil
			},
		})
	}
	return c
}

// Add registers an extra check.
func (c *Checker) Add(check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, check)
}

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	c.RunAll(ctx)

	ticker := c.clock.Ticker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunAll(ctx)
		}
	}
}

// RunAll runs every check once.
func (c *Checker) RunAll(ctx context.Context) {
	c.mu.RLock()
	checks := append([]Check(nil), c.checks...)
	c.mu.RUnlock()

	statuses := make([]Status, len(checks))
	for i, check := range checks {
		s := Status{Name: check.Name, CheckedAt: c.clock.Now().UTC()}
		err := check.CheckFn(ctx)
		if err != nil && check.RecoverFn != nil {
			if rerr := check.RecoverFn(ctx); rerr == nil {
				c.logger.Info("check recovered", zap.String("check", check.Name), zap.NamedError("cause", err))
				err = check.CheckFn(ctx)
			}
		}
		if err != nil {
			s.Error = err.Error()
			c.logger.Warn("check failed", zap.String("check", check.Name), zap.Error(err))
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(0)
		} else {
			s.Healthy = true
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(1)
		}
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// ─── Check Implementations ──────────────────────────────────────────────────

func checkDataDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("check data dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("data path %s is not a directory", dir)
	}
	return nil
}
