package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// healthCheckInterval is the cadence of the background monitor.
const healthCheckInterval = 60 * time.Second

// slowQueryThreshold marks a trades count query as slow.
const slowQueryThreshold = time.Second

// lowDiskSpaceThreshold warns when less than 10% of the disk remains.
const lowDiskSpaceThreshold = 0.10

// HealthReport is the outcome of one monitor pass.
type HealthReport struct {
	ConnectionOK          bool
	QueryLatencyMS        uint64
	DatabaseSizeBytes     uint64
	DiskSpaceAvailablePct float32
	Errors                []string
	Warnings              []string
}

// IsHealthy holds iff the connection responded and no errors accumulated.
func (r *HealthReport) IsHealthy() bool {
	return r.ConnectionOK && len(r.Errors) == 0
}

// Summary renders the report for logs.
func (r *HealthReport) Summary() string {
	if !r.IsHealthy() {
		return fmt.Sprintf("unhealthy: %v", r.Errors)
	}
	if len(r.Warnings) > 0 {
		return fmt.Sprintf("healthy with warnings: %v", r.Warnings)
	}
	return fmt.Sprintf("healthy, query latency %dms, disk %.1f%% free",
		r.QueryLatencyMS, r.DiskSpaceAvailablePct*100)
}

// HealthMonitor runs periodic connectivity, latency and disk checks against
// the database.
type HealthMonitor struct {
	db     *DB
	logger *slog.Logger

	mu         sync.Mutex
	lastReport *HealthReport
}

// NewHealthMonitor wraps the database without starting anything.
func NewHealthMonitor(d *DB, logger *slog.Logger) *HealthMonitor {
	return &HealthMonitor{db: d, logger: logger.With("component", "db-health")}
}

// RunHealthCheck performs one complete pass: a trivial SELECT for
// connectivity, a trades count for query latency, and a disk usage probe.
func (m *HealthMonitor) RunHealthCheck() HealthReport {
	report := HealthReport{DiskSpaceAvailablePct: 1.0}

	if err := m.db.HealthCheck(); err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("connection check failed: %v", err))
	} else {
		report.ConnectionOK = true
	}

	latency, err := m.checkQueryPerformance()
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("query performance check failed: %v", err))
	} else {
		report.QueryLatencyMS = uint64(latency.Milliseconds())
		if latency > slowQueryThreshold {
			report.Warnings = append(report.Warnings, fmt.Sprintf(
				"slow query detected: %dms (threshold %dms)",
				latency.Milliseconds(), slowQueryThreshold.Milliseconds()))
		}
	}

	dbSize, diskPct, err := m.checkDiskSpace()
	if err != nil {
		report.Warnings = append(report.Warnings, fmt.Sprintf("disk space check failed: %v", err))
	} else {
		report.DatabaseSizeBytes = dbSize
		report.DiskSpaceAvailablePct = diskPct
		if diskPct < lowDiskSpaceThreshold {
			report.Warnings = append(report.Warnings, fmt.Sprintf(
				"low disk space: %.1f%% available (threshold %.1f%%)",
				diskPct*100, lowDiskSpaceThreshold*100))
		}
	}

	m.mu.Lock()
	m.lastReport = &report
	m.mu.Unlock()

	m.logger.Debug("health check completed", "summary", report.Summary())
	return report
}

// LastReport returns the newest report, if any pass has run.
func (m *HealthMonitor) LastReport() *HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastReport
}

func (m *HealthMonitor) checkQueryPerformance() (time.Duration, error) {
	start := time.Now()
	err := m.db.withConn(func(conn *sql.DB) error {
		var count int64
		return conn.QueryRow("SELECT COUNT(*) FROM trades").Scan(&count)
	})
	if err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

func (m *HealthMonitor) checkDiskSpace() (uint64, float32, error) {
	var dbSize uint64
	if info, err := os.Stat(m.db.Path()); err == nil {
		dbSize = uint64(info.Size())
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(m.db.Path(), &stat); err != nil {
		return dbSize, 1.0, err
	}
	total := stat.Blocks * uint64(stat.Bsize)
	if total == 0 {
		return dbSize, 1.0, nil
	}
	avail := stat.Bavail * uint64(stat.Bsize)
	return dbSize, float32(float64(avail) / float64(total)), nil
}

// Run checks every 60 seconds until the context is cancelled. A pass that
// overruns its slot skips the missed ticks instead of bursting afterwards.
func (m *HealthMonitor) Run(ctx context.Context) {
	m.logger.Info("database health monitor started", "interval", healthCheckInterval)

	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Drain any backlog so pauses don't trigger a check storm.
			for drained := false; !drained; {
				select {
				case <-ticker.C:
				default:
					drained = true
				}
			}
			report := m.RunHealthCheck()
			for _, warning := range report.Warnings {
				m.logger.Warn("database health warning", "warning", warning)
			}
			for _, errMsg := range report.Errors {
				m.logger.Error("database health error", "error", errMsg)
			}
		}
	}
}
