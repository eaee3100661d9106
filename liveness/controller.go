package liveness

import (
	"errors"
	"log/slog"
	"sync"
)

var (
	ErrConcurrentObservation = errors.New("observation already being processed")
	ErrSessionNotStarted     = errors.New("liveness session not started")
)

// Controller owns exactly one liveness session and guards it against
// concurrent observations. The capture pipeline keeps at most one frame in
// flight, so a second caller arriving mid-frame is a contract violation and
// is turned away rather than queued.
type Controller struct {
	guard   sync.Mutex
	session *Session
	started bool
	log     *slog.Logger
}

// NewController validates cfg and prepares an idle session.
func NewController(cfg Config, log *slog.Logger) (*Controller, error) {
	if log == nil {
		log = slog.Default()
	}
	session, err := NewSession(cfg, log)
	if err != nil {
		return nil, err
	}
	return &Controller{session: session, log: log}, nil
}

// Start begins a fresh session, discarding any previous progress.
func (c *Controller) Start() SessionState {
	c.guard.Lock()
	defer c.guard.Unlock()

	c.session.Reset()
	c.started = true
	c.log.Info("Liveness session started")
	return c.session.State()
}

func (c *Controller) ProcessObservation(obs FaceObservation) (SessionState, error) {
	if !c.guard.TryLock() {
		c.log.Warn("Rejecting concurrent observation")
		return SessionState{}, ErrConcurrentObservation
	}
	defer c.guard.Unlock()

	if !c.started {
		return SessionState{}, ErrSessionNotStarted
	}
	if c.session.Completed() {
		c.log.Warn("Observation received after completion, ignoring")
		return c.session.State(), nil
	}
	return c.session.Process(obs), nil
}

// Reset returns the session to the initial instructions. It is idempotent and
// valid in any stage.
func (c *Controller) Reset() SessionState {
	c.guard.Lock()
	defer c.guard.Unlock()

	if c.session.Stage() != StageInitialInstructions {
		c.log.Info("Liveness session reset", "stage", c.session.Stage())
	}
	c.session.Reset()
	return c.session.State()
}

func (c *Controller) State() SessionState {
	c.guard.Lock()
	defer c.guard.Unlock()
	return c.session.State()
}

func (c *Controller) Started() bool {
	c.guard.Lock()
	defer c.guard.Unlock()
	return c.started
}

func (c *Controller) RetainedFrames() []FrameHandle {
	c.guard.Lock()
	defer c.guard.Unlock()
	return c.session.RetainedFrames()
}
