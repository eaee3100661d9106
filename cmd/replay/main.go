// Command replay runs recorded detector observations through a liveness
// controller and prints the state after every frame.
//
// Input is JSON lines in the observation request format of the liveness API;
// session_id, nonce and frame are ignored.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"go-liveness-issuer/liveness"
	"go-liveness-issuer/logging"
	"go-liveness-issuer/models"
)

func main() {
	configPath := flag.String("config", "", "Optional liveness config json, overlaid on the defaults")
	inputPath := flag.String("input", "-", "JSON lines file with observations, - for stdin")
	logLevel := flag.String("log-level", "info", "Log level")
	latestOnly := flag.Bool("latest-only", false, "Drop observations the controller could not keep up with")
	flag.Parse()

	logging.InitLogger(*logLevel)

	if err := run(*configPath, *inputPath, *latestOnly, os.Stdout); err != nil {
		slog.Error("Replay failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath, inputPath string, latestOnly bool, out io.Writer) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	in := os.Stdin
	if inputPath != "-" {
		f, err := os.Open(inputPath)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	controller, err := liveness.NewController(cfg, logging.GetLogger())
	if err != nil {
		return err
	}
	controller.Start()

	src := liveness.FaceObservationSource(newLineSource(in))
	if latestOnly {
		src = pump(ctx, src)
	}

	final, err := replay(ctx, src, controller, out)
	if err != nil {
		return err
	}
	slog.Info("Replay finished", "stage", final.Stage, "completed", final.Completed, "quality", final.Tier.Quality())
	return nil
}

// replay feeds src into the controller and writes one JSON state per line.
func replay(ctx context.Context, src liveness.FaceObservationSource, c *liveness.Controller, out io.Writer) (liveness.SessionState, error) {
	enc := json.NewEncoder(out)
	var writeErr error
	final, err := liveness.Run(ctx, src, c, func(state liveness.SessionState) {
		if writeErr == nil {
			writeErr = enc.Encode(newReplayState(state))
		}
	})
	if err != nil {
		return final, err
	}
	return final, writeErr
}

func loadConfig(path string) (liveness.Config, error) {
	cfg := liveness.DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("decode %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// lineSource decodes one observation per input line.
type lineSource struct {
	scanner *bufio.Scanner
	line    int
}

func newLineSource(r io.Reader) *lineSource {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	return &lineSource{scanner: scanner}
}

func (s *lineSource) Next(ctx context.Context) (liveness.FaceObservation, error) {
	for {
		if err := ctx.Err(); err != nil {
			return liveness.FaceObservation{}, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return liveness.FaceObservation{}, err
			}
			return liveness.FaceObservation{}, io.EOF
		}
		s.line++
		if len(s.scanner.Bytes()) == 0 {
			continue
		}

		var request models.ObservationRequest
		if err := json.Unmarshal(s.scanner.Bytes(), &request); err != nil {
			return liveness.FaceObservation{}, fmt.Errorf("line %d: %w", s.line, err)
		}
		return request.Observation(), nil
	}
}

// pump reads src on its own goroutine into a slot that keeps only the most
// recent observation.
func pump(ctx context.Context, src liveness.FaceObservationSource) liveness.FaceObservationSource {
	slot := liveness.NewLatestFrameSlot()
	go func() {
		defer slot.Close()
		for {
			obs, err := src.Next(ctx)
			if err != nil {
				if err != io.EOF {
					slog.Warn("Stopped reading observations", "error", err)
				}
				return
			}
			if !slot.Offer(obs) {
				slog.Debug("Dropped stale observation", "dropped", slot.Dropped())
			}
		}
	}()
	return slot
}

type replayState struct {
	Stage           liveness.Stage `json:"stage"`
	Instruction     string         `json:"instruction"`
	CoveredSegments int            `json:"covered_segments"`
	VisitedSegments []int          `json:"visited_segments"`
	BlinkConfirmed  bool           `json:"blink_confirmed"`
	Completed       bool           `json:"completed"`
	Quality         string         `json:"quality,omitempty"`
	Stalled         bool           `json:"stalled,omitempty"`
}

func newReplayState(s liveness.SessionState) replayState {
	return replayState{
		Stage:           s.Stage,
		Instruction:     s.InstructionText,
		CoveredSegments: s.CoveredSegments,
		VisitedSegments: s.VisitedSegments,
		BlinkConfirmed:  s.BlinkConfirmed,
		Completed:       s.Completed,
		Quality:         s.Tier.Quality(),
		Stalled:         s.Stalled,
	}
}
