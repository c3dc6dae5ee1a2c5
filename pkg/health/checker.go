// Package health builds readiness/liveness checkers for the dispatch
// core's dependencies (Postgres, Redis, the matching-adjacent HTTP/gRPC
// oracles), composable into a single aggregate /healthz report.
package health

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Checker is a single named health probe: nil means healthy.
type Checker func() error

// CheckerConfig tunes a checker's per-call timeout.
type CheckerConfig struct {
	Timeout time.Duration
}

// DefaultCheckerConfig is the 2s timeout every non-WithConfig constructor
// below uses.
func DefaultCheckerConfig() CheckerConfig {
	return CheckerConfig{Timeout: 2 * time.Second}
}

// DatabaseChecker pings db with the default timeout.
func DatabaseChecker(db *sql.DB) Checker {
	return DatabaseCheckerWithConfig(db, DefaultCheckerConfig())
}

// DatabaseCheckerWithConfig pings db, bounded by config.Timeout.
func DatabaseCheckerWithConfig(db *sql.DB, config CheckerConfig) Checker {
	return func() error {
		if db == nil {
			return fmt.Errorf("database connection is nil")
		}
		ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
		defer cancel()
		return db.PingContext(ctx)
	}
}

// RedisChecker pings client with the default timeout.
func RedisChecker(client *redis.Client) Checker {
	return RedisCheckerWithConfig(client, DefaultCheckerConfig())
}

// RedisCheckerWithConfig pings client, bounded by config.Timeout.
func RedisCheckerWithConfig(client *redis.Client, config CheckerConfig) Checker {
	return func() error {
		if client == nil {
			return fmt.Errorf("redis client is nil")
		}
		ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
		defer cancel()
		return client.Ping(ctx).Err()
	}
}

// HTTPEndpointChecker probes url with the default timeout, for the
// dispatch core's external REST oracles that don't warrant a dedicated
// client (the Gateway's fallback paths, a routing/ETA provider).
func HTTPEndpointChecker(url string) Checker {
	return HTTPEndpointCheckerWithConfig(url, DefaultCheckerConfig())
}

// HTTPEndpointCheckerWithConfig probes url, bounded by config.Timeout.
// Redirects (3xx) count as healthy; the client does not follow them.
func HTTPEndpointCheckerWithConfig(url string, config CheckerConfig) Checker {
	client := &http.Client{
		Timeout: config.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("health: build request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("health: endpoint unreachable: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("health: endpoint returned status %d", resp.StatusCode)
		}
		return nil
	}
}

// GRPCEndpointChecker is a placeholder for a gRPC health-check-protocol
// probe; wire grpc_health_v1 here if a gRPC-speaking dependency is added.
func GRPCEndpointChecker(target string) Checker {
	return func() error {
		return nil
	}
}

// CompositeChecker runs every named checker and folds their failures into
// one error, reporting each as "name.key: <err>".
func CompositeChecker(name string, checkers map[string]Checker) Checker {
	return func() error {
		var failures []string
		for key, checker := range checkers {
			if err := checker(); err != nil {
				failures = append(failures, fmt.Sprintf("%s.%s: %v", name, key, err))
			}
		}
		if len(failures) == 0 {
			return nil
		}
		return fmt.Errorf("%s", strings.Join(failures, "; "))
	}
}

// AsyncChecker runs checker in a goroutine and fails the check if it
// doesn't return within timeout, so one slow dependency degrades the
// aggregate status instead of blocking the whole /healthz request.
func AsyncChecker(checker Checker, timeout time.Duration) Checker {
	return func() error {
		result := make(chan error, 1)
		go func() { result <- checker() }()
		select {
		case err := <-result:
			return err
		case <-time.After(timeout):
			return fmt.Errorf("health: check timeout after %v", timeout)
		}
	}
}

// CachedChecker memoizes the last result of a checker for cacheTTL, so a
// hot /healthz path doesn't re-probe a dependency on every request.
type CachedChecker struct {
	checker  Checker
	cacheTTL time.Duration

	mu        sync.Mutex
	checked   bool
	lastCheck time.Time
	lastErr   error
}

// NewCachedChecker wraps checker with a cacheTTL-wide memoization window.
func NewCachedChecker(checker Checker, cacheTTL time.Duration) *CachedChecker {
	return &CachedChecker{checker: checker, cacheTTL: cacheTTL}
}

// Check returns the cached result if still within cacheTTL, otherwise
// re-runs the underlying checker and caches its result, error included.
func (c *CachedChecker) Check() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.checked && time.Since(c.lastCheck) < c.cacheTTL {
		return c.lastErr
	}
	c.lastErr = c.checker()
	c.lastCheck = time.Now()
	c.checked = true
	return c.lastErr
}
