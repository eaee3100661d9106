package main

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go-liveness-issuer/images"
	"go-liveness-issuer/liveness"
	"go-liveness-issuer/logging"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound = errors.New("liveness session not found")
	ErrTooManySessions = errors.New("too many active liveness sessions")
	ErrNotCompleted    = errors.New("liveness session not completed")
)

// livenessSession ties a controller to the frames uploaded for it. Frames
// live here until the controller no longer references them and no request
// that uploaded them is still in flight.
type livenessSession struct {
	id         string
	controller *liveness.Controller
	createdAt  time.Time

	mu      sync.Mutex
	frames  map[liveness.FrameHandle]*images.Frame
	pending map[liveness.FrameHandle]bool

	// storeMu is held while the accepted frame is persisted and guards
	// frameStored. It is taken before mu.
	storeMu     sync.Mutex
	frameStored bool
}

// addFrame registers an uploaded frame and returns its handle. The frame is
// pending until the request that added it calls releaseFrames.
func (s *livenessSession) addFrame(frame *images.Frame) liveness.FrameHandle {
	handle := liveness.FrameHandle(uuid.NewString())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames[handle] = frame
	s.pending[handle] = true
	return handle
}

// releaseFrames settles the frame added by the calling request, if any, and
// drops every frame that is neither retained nor pending for another request.
func (s *livenessSession) releaseFrames(own liveness.FrameHandle, retained []liveness.FrameHandle) {
	keep := make(map[liveness.FrameHandle]bool, len(retained))
	for _, h := range retained {
		keep[h] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, own)
	for h := range s.frames {
		if !keep[h] && !s.pending[h] {
			delete(s.frames, h)
		}
	}
}

func (s *livenessSession) frame(handle liveness.FrameHandle) (*images.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.frames[handle]
	return f, ok
}

// storeOnce runs store until it succeeds once after a reset. A failed store
// leaves the session unmarked so the next call tries again.
func (s *livenessSession) storeOnce(store func() error) error {
	s.storeMu.Lock()
	defer s.storeMu.Unlock()
	if s.frameStored {
		return nil
	}
	if err := store(); err != nil {
		return err
	}
	s.frameStored = true
	return nil
}

func (s *livenessSession) stored() bool {
	s.storeMu.Lock()
	defer s.storeMu.Unlock()
	return s.frameStored
}

func (s *livenessSession) reset() liveness.SessionState {
	state := s.controller.Reset()
	s.storeMu.Lock()
	defer s.storeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = make(map[liveness.FrameHandle]*images.Frame)
	s.pending = make(map[liveness.FrameHandle]bool)
	s.frameStored = false
	return state
}

// SessionRegistry holds the liveness sessions that are in progress. It
// only lives in memory: a restart abandons running sessions, while the
// nonces and accepted frames may survive in redis.
type SessionRegistry struct {
	mu          sync.Mutex
	sessions    map[string]*livenessSession
	cfg         liveness.Config
	maxSessions int
	ttl         time.Duration
	now         func() time.Time
}

func NewSessionRegistry(cfg liveness.Config, maxSessions int, ttl time.Duration) (*SessionRegistry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = Timeout
	}
	return &SessionRegistry{
		sessions:    make(map[string]*livenessSession),
		cfg:         cfg,
		maxSessions: maxSessions,
		ttl:         ttl,
		now:         time.Now,
	}, nil
}

// Create starts a new liveness session under the given id. Expired sessions
// are evicted first; a full registry is reported as ErrTooManySessions.
func (r *SessionRegistry) Create(sessionId string) (*livenessSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictExpired()
	if r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
		return nil, fmt.Errorf("%w (max %d)", ErrTooManySessions, r.maxSessions)
	}

	controller, err := liveness.NewController(r.cfg, logging.ForSession(sessionId))
	if err != nil {
		return nil, err
	}
	controller.Start()

	session := &livenessSession{
		id:         sessionId,
		controller: controller,
		createdAt:  r.now(),
		frames:     make(map[liveness.FrameHandle]*images.Frame),
		pending:    make(map[liveness.FrameHandle]bool),
	}
	r.sessions[sessionId] = session
	return session, nil
}

func (r *SessionRegistry) Get(sessionId string) (*livenessSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionId]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionId)
	}
	return session, nil
}

func (r *SessionRegistry) Remove(sessionId string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionId)
}

func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *SessionRegistry) evictExpired() {
	cutoff := r.now().Add(-r.ttl)
	for id, session := range r.sessions {
		if session.createdAt.Before(cutoff) {
			slog.Info("Evicting expired liveness session", "session_id", id)
			delete(r.sessions, id)
		}
	}
}
