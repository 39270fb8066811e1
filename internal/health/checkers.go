// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ManuGH/lure/internal/store"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// DatabaseChecker pings the SQLite handle.
type DatabaseChecker struct {
	db Pinger
}

func NewDatabaseChecker(db Pinger) *DatabaseChecker { return &DatabaseChecker{db: db} }

func (c *DatabaseChecker) Name() string { return "database" }

func (c *DatabaseChecker) Check(ctx context.Context) CheckResult {
	if err := c.db.PingContext(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, Message: "database reachable"}
}

// RedisChecker pings the shared redis connection.
type RedisChecker struct {
	client redis.UniversalClient
}

func NewRedisChecker(client redis.UniversalClient) *RedisChecker {
	return &RedisChecker{client: client}
}

func (c *RedisChecker) Name() string { return "redis" }

func (c *RedisChecker) Check(ctx context.Context) CheckResult {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, Message: "redis reachable"}
}

// DirChecker verifies a directory exists and accepts writes.
type DirChecker struct {
	name string
	path string
}

func NewDirChecker(name, path string) *DirChecker {
	return &DirChecker{name: name, path: path}
}

func (c *DirChecker) Name() string { return c.name }

func (c *DirChecker) Check(_ context.Context) CheckResult {
	if err := checkWritableDir(c.path); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: c.path}
	}
	return CheckResult{Status: StatusHealthy, Message: "directory writable"}
}

func checkWritableDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("directory does not exist: %s", path)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}
	f, err := os.CreateTemp(path, ".write_test-*")
	if err != nil {
		return fmt.Errorf("directory is not writable: %s: %w", path, err)
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(filepath.Clean(name))
	return nil
}

// JobRunsFunc lists the persisted job bookkeeping.
type JobRunsFunc func(ctx context.Context) ([]store.JobRun, error)

// JobsChecker reports jobs whose last run is older than a multiple of their
// interval, or whose last run failed.
type JobsChecker struct {
	runs      JobRunsFunc
	intervals map[string]time.Duration
	now       func() time.Time
}

// NewJobsChecker watches the named jobs. A job is stale once it has not
// finished for three intervals.
func NewJobsChecker(runs JobRunsFunc, intervals map[string]time.Duration) *JobsChecker {
	return &JobsChecker{runs: runs, intervals: intervals, now: time.Now}
}

func (c *JobsChecker) Name() string { return "jobs" }

func (c *JobsChecker) Check(ctx context.Context) CheckResult {
	runs, err := c.runs(ctx)
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	byName := make(map[string]store.JobRun, len(runs))
	for _, r := range runs {
		byName[r.Name] = r
	}

	now := c.now()
	var stale, failed []string
	for name, every := range c.intervals {
		r, ok := byName[name]
		if !ok || r.LastFinished == nil {
			// never ran yet; fine during the first intervals after startup
			continue
		}
		if now.Sub(*r.LastFinished) > 3*every {
			stale = append(stale, name)
		}
		if r.LastError != "" {
			failed = append(failed, name)
		}
	}
	sort.Strings(stale)
	sort.Strings(failed)
	switch {
	case len(stale) > 0:
		return CheckResult{Status: StatusDegraded, Message: fmt.Sprintf("stale jobs: %v", stale)}
	case len(failed) > 0:
		return CheckResult{Status: StatusDegraded, Message: fmt.Sprintf("last run failed: %v", failed)}
	}
	return CheckResult{Status: StatusHealthy, Message: "jobs running"}
}
