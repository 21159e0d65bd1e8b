package health

import (
	"context"
	"fmt"
	"time"
)

// Connectivity is satisfied by the transports
type Connectivity interface {
	IsConnected() bool
}

// Pinger is satisfied by *sql.DB and *sqlx.DB
type Pinger interface {
	PingContext(ctx context.Context) error
}

// TransportChecker reports whether the broker connection is up
type TransportChecker struct {
	name      string
	transport Connectivity
}

// NewTransportChecker creates a checker named name
func NewTransportChecker(name string, transport Connectivity) *TransportChecker {
	return &TransportChecker{name: name, transport: transport}
}

func (c *TransportChecker) Name() string {
	return c.name
}

func (c *TransportChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.name,
		Timestamp: start,
		Status:    StatusHealthy,
		Message:   "connected",
	}

	if !c.transport.IsConnected() {
		result.Status = StatusUnhealthy
		result.Message = "not connected"
	}

	result.Duration = time.Since(start)
	return result
}

// DatabaseChecker pings the database
type DatabaseChecker struct {
	db Pinger
}

func NewDatabaseChecker(db Pinger) *DatabaseChecker {
	return &DatabaseChecker{db: db}
}

func (c *DatabaseChecker) Name() string {
	return "database"
}

func (c *DatabaseChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]any),
	}

	if err := c.db.PingContext(ctx); err != nil {
		result.Status = StatusUnhealthy
		result.Message = "ping failed"
		result.Error = err.Error()
	} else {
		result.Status = StatusHealthy
		result.Message = "database is reachable"
	}

	result.Duration = time.Since(start)
	result.Details["response_time_ms"] = result.Duration.Milliseconds()
	return result
}

// PendingChecker degrades once the number of outstanding calls reaches
// warning and fails at critical. A zero threshold disables that level.
type PendingChecker struct {
	pending  func() int
	warning  int
	critical int
}

func NewPendingChecker(pending func() int, warning, critical int) *PendingChecker {
	return &PendingChecker{pending: pending, warning: warning, critical: critical}
}

func (c *PendingChecker) Name() string {
	return "pending_requests"
}

func (c *PendingChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	n := c.pending()

	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Status:    StatusHealthy,
		Message:   fmt.Sprintf("%d calls awaiting reply", n),
		Details:   map[string]any{"pending": n},
	}

	switch {
	case c.critical > 0 && n >= c.critical:
		result.Status = StatusUnhealthy
	case c.warning > 0 && n >= c.warning:
		result.Status = StatusDegraded
	}

	result.Duration = time.Since(start)
	return result
}
