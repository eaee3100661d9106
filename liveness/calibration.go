package liveness

// CalibrationBaseline is the neutral head pose that later rotations are
// measured against.
type CalibrationBaseline struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
}

// CalibrationTracker averages a fixed number of pose samples into a baseline.
type CalibrationTracker struct {
	window int
	yaw    []float64
	pitch  []float64
}

func NewCalibrationTracker(window int) *CalibrationTracker {
	return &CalibrationTracker{
		window: window,
		yaw:    make([]float64, 0, window),
		pitch:  make([]float64, 0, window),
	}
}

// Observe buffers a sample. When the window fills up the mean is returned
// with ok set and the buffer starts over.
func (c *CalibrationTracker) Observe(yaw, pitch float64) (baseline CalibrationBaseline, ok bool) {
	c.yaw = append(c.yaw, yaw)
	c.pitch = append(c.pitch, pitch)
	if len(c.yaw) < c.window {
		return CalibrationBaseline{}, false
	}

	baseline = CalibrationBaseline{Yaw: mean(c.yaw), Pitch: mean(c.pitch)}
	c.Reset()
	return baseline, true
}

// Remaining is the number of samples still needed before a baseline is ready.
func (c *CalibrationTracker) Remaining() int {
	return c.window - len(c.yaw)
}

func (c *CalibrationTracker) Buffered() int {
	return len(c.yaw)
}

func (c *CalibrationTracker) Reset() {
	c.yaw = c.yaw[:0]
	c.pitch = c.pitch[:0]
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
