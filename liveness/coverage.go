package liveness

import "math"

const SegmentCount = 8

// SegmentIndex maps a head rotation direction to one of SegmentCount equal
// angular bins, counterclockwise from the positive yaw axis.
func SegmentIndex(yaw, pitch float64) int {
	angle := math.Atan2(pitch, yaw)
	if angle < 0 {
		angle += 2 * math.Pi
	}
	index := int(math.Floor(angle/(2*math.Pi)*SegmentCount)) % SegmentCount
	return index
}

// movingAverage is a trailing mean over the last size samples.
type movingAverage struct {
	samples []float64
	next    int
	filled  bool
}

func newMovingAverage(size int) *movingAverage {
	return &movingAverage{samples: make([]float64, size)}
}

func (m *movingAverage) add(v float64) float64 {
	m.samples[m.next] = v
	m.next = (m.next + 1) % len(m.samples)
	if m.next == 0 {
		m.filled = true
	}

	n := m.next
	if m.filled {
		n = len(m.samples)
	}
	return mean(m.samples[:n])
}

func (m *movingAverage) reset() {
	for i := range m.samples {
		m.samples[i] = 0
	}
	m.next = 0
	m.filled = false
}

// SegmentCoverage tracks which rotation segments have been visited. Segments
// are never cleared except by Reset.
type SegmentCoverage struct {
	thresholds RotationThresholds
	yaw        *movingAverage
	pitch      *movingAverage
	covered    [SegmentCount]bool
	visited    []int
}

func NewSegmentCoverage(smoothingWindow int, thresholds RotationThresholds) *SegmentCoverage {
	return &SegmentCoverage{
		thresholds: thresholds,
		yaw:        newMovingAverage(smoothingWindow),
		pitch:      newMovingAverage(smoothingWindow),
		visited:    make([]int, 0, SegmentCount),
	}
}

// Observe smooths the pose deltas relative to the baseline and, when the
// smoothed rotation is significant, marks and returns its segment.
func (s *SegmentCoverage) Observe(yawDelta, pitchDelta float64) (segment int, ok bool) {
	avgYaw := s.yaw.add(yawDelta)
	avgPitch := s.pitch.add(pitchDelta)

	if !s.significant(avgYaw, avgPitch) {
		return 0, false
	}

	segment = SegmentIndex(avgYaw, avgPitch)
	if !s.covered[segment] {
		s.covered[segment] = true
		s.visited = append(s.visited, segment)
	}
	return segment, true
}

func (s *SegmentCoverage) significant(yaw, pitch float64) bool {
	return math.Abs(yaw) >= s.thresholds.Yaw ||
		math.Abs(pitch) >= s.thresholds.Pitch ||
		math.Hypot(yaw, pitch) >= s.thresholds.Magnitude
}

func (s *SegmentCoverage) Covered() [SegmentCount]bool {
	return s.covered
}

func (s *SegmentCoverage) Count() int {
	return len(s.visited)
}

func (s *SegmentCoverage) Complete() bool {
	return len(s.visited) == SegmentCount
}

// Visited returns the covered segments in the order they were first reached.
func (s *SegmentCoverage) Visited() []int {
	out := make([]int, len(s.visited))
	copy(out, s.visited)
	return out
}

func (s *SegmentCoverage) Reset() {
	s.yaw.reset()
	s.pitch.reset()
	s.covered = [SegmentCount]bool{}
	s.visited = s.visited[:0]
}
