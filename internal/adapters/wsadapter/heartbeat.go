package wsadapter

import (
	"time"

	"github.com/desertbit/timer"
	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"
)

// heartbeatLoop reaps connections whose last ping is older than twice the
// heartbeat interval. A single goroutine runs per adapter, reading only
// per-connection timestamps.
func (a *Adapter) heartbeatLoop() {
	interval := time.Duration(a.desc.HeartbeatIntervalMs) * time.Millisecond
	if interval <= 0 {
		return
	}
	deadAfter := 2 * interval

	t := timer.NewTimer(interval)
	defer t.Stop()

	for {
		select {
		case <-a.stopHeartbeat:
			return
		case <-t.C:
			a.reap(deadAfter)
			t.Reset(interval)
		}
	}
}

func (a *Adapter) reap(deadAfter time.Duration) {
	cutoff := time.Now().Add(-deadAfter)
	for _, conn := range a.table.snapshot() {
		if conn.LastPing().Before(cutoff) {
			log.Debug().
				Str("connId", conn.ID).
				Str("tenantId", conn.TenantID).
				Msg("reaping stale websocket connection")
			if conn.sock != nil {
				_ = conn.sock.Close(websocket.StatusPolicyViolation, "heartbeat timeout")
			}
			a.table.remove(conn.ID)
		}
	}
}
