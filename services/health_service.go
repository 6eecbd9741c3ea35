package services

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

const (
	overallStatusOK       = "ok"
	overallStatusDegraded = "degraded"
	overallStatusCritical = "critical"

	dependencyStatusUp       = "up"
	dependencyStatusDown     = "down"
	dependencyStatusDisabled = "disabled"

	defaultServiceName = "Sekolah Absenku API"
	healthCheckTimeout = 1500 * time.Millisecond
)

// statusRank orders overall states from best to worst.
var statusRank = map[string]int{
	overallStatusOK:       0,
	overallStatusDegraded: 1,
	overallStatusCritical: 2,
}

// HealthService reports on the database, Redis and runtime state.
type HealthService struct {
	service   string
	version   string
	env       string
	startedAt time.Time
	db        *gorm.DB
	redis     *redis.Client
	flags     HealthFlags
}

type HealthReport struct {
	Status        string             `json:"status"`
	Service       string             `json:"service"`
	Version       string             `json:"version,omitempty"`
	Environment   string             `json:"environment"`
	Time          time.Time          `json:"time"`
	UptimeSeconds float64            `json:"uptime_seconds"`
	Uptime        string             `json:"uptime"`
	Dependencies  []DependencyStatus `json:"dependencies"`
	Metrics       HealthMetrics      `json:"metrics"`
	Flags         HealthFlags        `json:"flags"`
}

type DependencyStatus struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type HealthMetrics struct {
	Goroutines int            `json:"goroutines"`
	HeapBytes  uint64         `json:"heap_bytes"`
	Database   *DatabaseStats `json:"database,omitempty"`
}

// DatabaseStats is a subset of sql.DBStats.
type DatabaseStats struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// HealthFlags echoes the runtime switches the process started with.
type HealthFlags struct {
	SkipMigrate       bool   `json:"skip_migrate"`
	StatsCacheEnabled bool   `json:"stats_cache_enabled"`
	AutoAbsentEnabled bool   `json:"auto_absent_enabled"`
	LineEnabled       bool   `json:"line_enabled"`
	StorageMode       string `json:"storage_mode"`
}

// NewHealthService builds the reporter; rdb may be nil when Redis is off.
func NewHealthService(service, version, env string, db *gorm.DB, rdb *redis.Client, flags HealthFlags) *HealthService {
	if service == "" {
		service = defaultServiceName
	}
	if env == "" {
		env = "unknown"
	}
	return &HealthService{
		service:   service,
		version:   version,
		env:       env,
		startedAt: time.Now(),
		db:        db,
		redis:     rdb,
		flags:     flags,
	}
}

// SetStartTime overrides the uptime origin, main sets it before migrations.
func (s *HealthService) SetStartTime(t time.Time) {
	if !t.IsZero() {
		s.startedAt = t
	}
}

// GetHealthReport pings every dependency and folds the results into one status.
// The database is required, Redis only degrades the service.
func (s *HealthService) GetHealthReport() HealthReport {
	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	uptime := time.Since(s.startedAt).Round(time.Second)
	report := HealthReport{
		Status:        overallStatusOK,
		Service:       s.service,
		Version:       s.version,
		Environment:   s.env,
		Time:          time.Now().UTC(),
		UptimeSeconds: uptime.Seconds(),
		Uptime:        uptime.String(),
		Flags:         s.flags,
	}

	dbDep, dbStats := s.checkDatabase(ctx)
	redisDep := s.checkRedis(ctx)
	report.Dependencies = []DependencyStatus{dbDep, redisDep}
	if dbDep.Status == dependencyStatusDown {
		report.Status = combineStatus(report.Status, overallStatusCritical)
	}
	if redisDep.Status == dependencyStatusDown {
		report.Status = combineStatus(report.Status, overallStatusDegraded)
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	report.Metrics = HealthMetrics{
		Goroutines: runtime.NumGoroutine(),
		HeapBytes:  mem.HeapAlloc,
		Database:   dbStats,
	}
	return report
}

// HTTPStatusForOverall answers 503 only when the database is unreachable.
func (s *HealthService) HTTPStatusForOverall(status string) int {
	if status == overallStatusCritical {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func (s *HealthService) checkDatabase(ctx context.Context) (DependencyStatus, *DatabaseStats) {
	dep := DependencyStatus{Name: "mysql", Status: dependencyStatusDown}
	if s.db == nil {
		dep.Error = "database connection not initialised"
		return dep, nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		dep.Error = err.Error()
		return dep, nil
	}

	start := time.Now()
	err = sqlDB.PingContext(ctx)
	dep.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		dep.Error = err.Error()
		return dep, nil
	}

	dep.Status = dependencyStatusUp
	st := sqlDB.Stats()
	return dep, &DatabaseStats{
		OpenConnections: st.OpenConnections,
		InUse:           st.InUse,
		Idle:            st.Idle,
		WaitCount:       st.WaitCount,
	}
}

func (s *HealthService) checkRedis(ctx context.Context) DependencyStatus {
	dep := DependencyStatus{Name: "redis", Status: dependencyStatusDisabled}
	if s.redis == nil {
		return dep
	}
	start := time.Now()
	err := s.redis.Ping(ctx).Err()
	dep.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		dep.Status = dependencyStatusDown
		dep.Error = err.Error()
		return dep
	}
	dep.Status = dependencyStatusUp
	return dep
}

// combineStatus keeps the worse of two states; unknown values count as ok.
func combineStatus(current, candidate string) string {
	if _, ok := statusRank[current]; !ok {
		current = overallStatusOK
	}
	if rank, ok := statusRank[candidate]; ok && rank > statusRank[current] {
		return candidate
	}
	return current
}
