package device

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/gec/sensord/internal/logger"
)

const DefaultKeepAliveDelay = time.Second

// PingCommand asks the analyzer to keep streaming measurement frames.
var PingCommand = []byte{3, 2, 49, 82, 71, 67, 65}

// KeepAlive writes PingCommand to the analyzer. Schedule is debounced: a
// burst of frames yields one ping, delay after the last of them.
type KeepAlive struct {
	w     io.Writer
	delay time.Duration
	log   logger.Logger

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool

	sent   atomic.Uint64
	failed atomic.Uint64
}

func NewKeepAlive(w io.Writer, delay time.Duration, log logger.Logger) *KeepAlive {
	if delay <= 0 {
		delay = DefaultKeepAliveDelay
	}
	return &KeepAlive{w: w, delay: delay, log: log}
}

// Ping writes the command immediately. The write holds the lock, so once
// Stop returns no ping reaches the port.
func (k *KeepAlive) Ping() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.stopped {
		return nil
	}

	if _, err := k.w.Write(PingCommand); err != nil {
		k.failed.Add(1)
		return err
	}

	k.sent.Add(1)
	return nil
}

// Schedule arranges a ping after the delay, replacing any pending one.
func (k *KeepAlive) Schedule() {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.stopped {
		return
	}

	if k.timer != nil {
		k.timer.Stop()
	}
	k.timer = time.AfterFunc(k.delay, k.fire)
}

func (k *KeepAlive) fire() {
	if err := k.Ping(); err != nil {
		k.log.Warn().Err(err).Msg("Keep-alive ping failed")
	}
}

// Stop cancels a pending ping and waits for one being written. Later calls
// to Ping and Schedule do nothing.
func (k *KeepAlive) Stop() {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.stopped = true
	if k.timer != nil {
		k.timer.Stop()
	}
}

// Sent returns the number of pings written successfully.
func (k *KeepAlive) Sent() uint64 {
	return k.sent.Load()
}

// Failed returns the number of pings that could not be written.
func (k *KeepAlive) Failed() uint64 {
	return k.failed.Load()
}
