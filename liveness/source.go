package liveness

import (
	"context"
	"errors"
	"io"
	"sync"
)

// FaceObservationSource yields detector observations one at a time. Next
// returns io.EOF once the stream is exhausted.
type FaceObservationSource interface {
	Next(ctx context.Context) (FaceObservation, error)
}

// ChannelSource reads observations from a channel until it is closed.
type ChannelSource struct {
	C <-chan FaceObservation
}

func (s ChannelSource) Next(ctx context.Context) (FaceObservation, error) {
	select {
	case <-ctx.Done():
		return FaceObservation{}, ctx.Err()
	case obs, ok := <-s.C:
		if !ok {
			return FaceObservation{}, io.EOF
		}
		return obs, nil
	}
}

// LatestFrameSlot hands observations from a producer to a single consumer.
// Only the most recent unconsumed observation is kept; older ones are dropped
// instead of queued.
type LatestFrameSlot struct {
	mu      sync.Mutex
	ch      chan FaceObservation
	closed  bool
	dropped int
}

func NewLatestFrameSlot() *LatestFrameSlot {
	return &LatestFrameSlot{ch: make(chan FaceObservation, 1)}
}

// Offer stores obs for the consumer. It reports false when obs replaced an
// observation that was never consumed, or when the slot is closed.
func (s *LatestFrameSlot) Offer(obs FaceObservation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	replaced := false
	select {
	case <-s.ch:
		s.dropped++
		replaced = true
	default:
	}
	s.ch <- obs
	return !replaced
}

func (s *LatestFrameSlot) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close ends the stream. A pending observation can still be consumed.
func (s *LatestFrameSlot) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *LatestFrameSlot) Next(ctx context.Context) (FaceObservation, error) {
	return ChannelSource{C: s.ch}.Next(ctx)
}

// Run feeds observations from src into c until the session completes, the
// source is exhausted or ctx is cancelled. onState may be nil.
func Run(ctx context.Context, src FaceObservationSource, c *Controller, onState func(SessionState)) (SessionState, error) {
	last := c.State()
	for {
		obs, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return last, nil
		}
		if err != nil {
			return last, err
		}

		state, err := c.ProcessObservation(obs)
		if err != nil {
			return last, err
		}
		last = state
		if onState != nil {
			onState(state)
		}
		if state.Completed {
			return state, nil
		}
	}
}
