package gateway

import (
	"sync/atomic"
	"time"
)

// heartbeatTask runs periodic heartbeats with an ACK watchdog. It is owned
// independently of the shard's own kill signal — the two are distinct
// single-shot channels with different owners.
type heartbeatTask struct {
	shard    *Shard
	interval time.Duration
	cancel   chan struct{}
	once     int32
}

func startHeartbeatTask(shard *Shard, interval time.Duration) *heartbeatTask {
	h := &heartbeatTask{
		shard:    shard,
		interval: interval,
		cancel:   make(chan struct{}),
	}
	go h.run()
	return h
}

// stop is idempotent: a second call is a safe no-op.
func (h *heartbeatTask) stop() {
	if atomic.CompareAndSwapInt32(&h.once, 0, 1) {
		close(h.cancel)
	}
}

func (h *heartbeatTask) run() {
	first := true
	for {
		select {
		case <-h.cancel:
			return
		case <-time.After(h.interval):
		}

		if !first {
			lastAck := h.shard.getLastAck()
			lastHeartbeat := h.shard.getLastHeartbeat()
			gap := lastAck.Sub(lastHeartbeat)
			if gap < 0 || gap > h.interval {
				h.shard.logf(LogLevelWarn, "heartbeat ack watchdog fired, killing shard")
				h.shard.kill()
				return
			}
		}

		payload, err := newHeartbeatPayload(h.shard.getSeq())
		if err != nil {
			h.shard.logErrf(err, "failed to build heartbeat payload, killing shard")
			h.shard.kill()
			return
		}

		writer := h.shard.getWriter()
		if writer == nil {
			h.shard.kill()
			return
		}

		select {
		case err := <-writer.send(payload):
			if err != nil {
				h.shard.logErrf(err, "error sending heartbeat, killing shard")
				h.shard.kill()
				return
			}
		case <-h.cancel:
			return
		}

		h.shard.setLastHeartbeat(time.Now())
		if h.shard.stats != nil {
			h.shard.stats.PacketsSent.WithLabelValues("1", h.shard.id()).Inc()
		}
		first = false
	}
}
