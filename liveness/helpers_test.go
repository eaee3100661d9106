package liveness

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const frameInterval = 100 * time.Millisecond

// driver feeds a controller with observations spaced frameInterval apart.
type driver struct {
	t   *testing.T
	c   *Controller
	now time.Time
	seq int
}

func newDriver(t *testing.T, mutate ...func(*Config)) *driver {
	t.Helper()
	cfg := DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := NewController(cfg, nil)
	require.NoError(t, err)
	c.Start()
	return &driver{t: t, c: c, now: time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)}
}

func (d *driver) pose(yaw, pitch, roll float64) FaceObservation {
	d.seq++
	return FaceObservation{
		HasFace:         true,
		Yaw:             yaw,
		Pitch:           pitch,
		Roll:            roll,
		LeftEyeOpen:     eyes(0.9),
		RightEyeOpen:    eyes(0.9),
		BoundingBoxArea: 0.16,
		Frame:           FrameHandle(fmt.Sprintf("frame-%d", d.seq)),
	}
}

func (d *driver) feed(obs FaceObservation) SessionState {
	d.t.Helper()
	obs.Timestamp = d.now
	d.now = d.now.Add(frameInterval)
	state, err := d.c.ProcessObservation(obs)
	require.NoError(d.t, err)
	return state
}

func (d *driver) face(yaw, pitch, roll float64) SessionState {
	d.t.Helper()
	return d.feed(d.pose(yaw, pitch, roll))
}

func (d *driver) noFace() SessionState {
	d.t.Helper()
	return d.feed(FaceObservation{HasFace: false})
}

func (d *driver) wait(duration time.Duration) {
	d.now = d.now.Add(duration)
}

// blink feeds one full blink while holding the given pose.
func (d *driver) blink(yaw, pitch float64) []SessionState {
	d.t.Helper()
	var states []SessionState
	for _, v := range []float32{0.9, 0.9, 0.3, 0.2, 0.8, 0.9} {
		obs := d.pose(yaw, pitch, 0)
		obs.LeftEyeOpen, obs.RightEyeOpen = eyes(v), eyes(v)
		states = append(states, d.feed(obs))
	}
	return states
}

func (d *driver) toCalibrating() {
	d.t.Helper()
	require.Equal(d.t, StageInitialInstructions, d.face(0, 0, 0).Stage)
	d.wait(DefaultConfig().PositioningDwell())
	require.Equal(d.t, StageCapturePhoto, d.face(0, 0, 0).Stage)
	require.Equal(d.t, StageCalibrating, d.face(0, 0, 0).Stage)
}

func (d *driver) toGuidedCoverage() {
	d.t.Helper()
	d.toCalibrating()
	for i := 0; i < DefaultConfig().CalibrationWindow; i++ {
		d.face(0, 0, 0)
	}
	require.Equal(d.t, StageSelfieCapture, d.c.State().Stage)
	require.Equal(d.t, StageGuidedCoverage, d.face(0, 0, 0).Stage)
}

// segmentPose is a 40 degree rotation towards the centre of a segment.
func segmentPose(segment int) (yaw, pitch float64) {
	angle := (float64(segment) + 0.5) * 2 * math.Pi / SegmentCount
	return 40 * math.Cos(angle), 40 * math.Sin(angle)
}

// rotate holds each listed segment long enough for the smoothing window to
// settle on it.
func (d *driver) rotate(segments ...int) []SessionState {
	d.t.Helper()
	var states []SessionState
	for _, segment := range segments {
		yaw, pitch := segmentPose(segment)
		for i := 0; i < DefaultConfig().SmoothingWindow; i++ {
			states = append(states, d.face(yaw, pitch, 0))
		}
	}
	return states
}

func allSegments() []int {
	return []int{0, 1, 2, 3, 4, 5, 6, 7}
}
