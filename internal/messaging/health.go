package messaging

import "time"

// Connection reports broker connectivity.
type Connection interface {
	IsConnected() bool
}

// HealthStatus is the health state of a broker connection.
type HealthStatus struct {
	Connected bool          `json:"connected"`
	CheckedAt time.Time     `json:"checked_at"`
	Error     string        `json:"error,omitempty"`
	Latency   time.Duration `json:"-"`
}

// CheckHealth reports whether conn is usable.
func CheckHealth(conn Connection) HealthStatus {
	start := time.Now()
	status := HealthStatus{CheckedAt: start.UTC()}

	if conn == nil {
		status.Error = "messaging disabled"
		return status
	}

	status.Connected = conn.IsConnected()
	status.Latency = time.Since(start)
	if !status.Connected {
		status.Error = "not connected to message broker"
	}
	return status
}
