package metrics

import (
	"database/sql"
	"sync"
)

type PoolHealthStatus string

const (
	PoolHealthy   PoolHealthStatus = "healthy"
	PoolDegraded  PoolHealthStatus = "degraded"
	PoolUnhealthy PoolHealthStatus = "unhealthy"
)

type PoolHealth struct {
	Status      PoolHealthStatus `json:"status"`
	InUse       int              `json:"in_use"`
	Idle        int              `json:"idle"`
	MaxOpen     int              `json:"max_open"`
	WaitCount   int64            `json:"wait_count"`
	Utilization float64          `json:"utilization"`
}

// AssessPool grades a database/sql pool by utilization.
func AssessPool(stats sql.DBStats) PoolHealth {
	h := PoolHealth{
		Status:    PoolHealthy,
		InUse:     stats.InUse,
		Idle:      stats.Idle,
		MaxOpen:   stats.MaxOpenConnections,
		WaitCount: stats.WaitCount,
	}
	if stats.MaxOpenConnections == 0 {
		return h
	}
	h.Utilization = float64(stats.InUse) / float64(stats.MaxOpenConnections)
	switch {
	case h.Utilization >= 0.95:
		h.Status = PoolUnhealthy
	case h.Utilization >= 0.80:
		h.Status = PoolDegraded
	}
	return h
}

var (
	poolsMu sync.RWMutex
	pools   = map[string]*sql.DB{}
)

// RegisterPool adds db to the pools reported by PoolsHealth.
func RegisterPool(name string, db *sql.DB) {
	poolsMu.Lock()
	defer poolsMu.Unlock()
	pools[name] = db
}

func PoolsHealth() map[string]PoolHealth {
	poolsMu.RLock()
	defer poolsMu.RUnlock()
	out := make(map[string]PoolHealth, len(pools))
	for name, db := range pools {
		out[name] = AssessPool(db.Stats())
	}
	return out
}
