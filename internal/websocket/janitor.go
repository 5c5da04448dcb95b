package websocket

import (
	"time"

	"go.uber.org/zap"
)

// SessionJanitor sweeps the hub for abandoned sessions. Annotators walk
// away from open tabs. The janitor makes sure their sessions still get
// closed and archived.
type SessionJanitor struct {
	hub           *Hub
	idleTimeout   time.Duration
	sweepInterval time.Duration
	logger        *zap.Logger
	stopChan      chan struct{}
}

// NewSessionJanitor creates a new session janitor
func NewSessionJanitor(hub *Hub, idleTimeout, sweepInterval time.Duration, logger *zap.Logger) *SessionJanitor {
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Minute
	}
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Minute
	}

	return &SessionJanitor{
		hub:           hub,
		idleTimeout:   idleTimeout,
		sweepInterval: sweepInterval,
		logger:        logger,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the background sweep process
func (j *SessionJanitor) Start() {
	go j.sweepLoop()
	j.logger.Info("Session janitor started",
		zap.Duration("idle_timeout", j.idleTimeout),
		zap.Duration("sweep_interval", j.sweepInterval))
}

// Stop gracefully stops the janitor
func (j *SessionJanitor) Stop() {
	close(j.stopChan)
	j.logger.Info("Session janitor stopped")
}

// sweepLoop runs the sweep periodically
func (j *SessionJanitor) sweepLoop() {
	ticker := time.NewTicker(j.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stopChan:
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

// sweep closes every session idle beyond the timeout
func (j *SessionJanitor) sweep() {
	closed := j.hub.CloseIdleSessions(j.idleTimeout)
	if closed > 0 {
		j.logger.Info("Swept idle sessions", zap.Int("closed", closed))
	}
}
