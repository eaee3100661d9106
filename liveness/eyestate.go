package liveness

type EyeState int

const (
	EyeOpen EyeState = iota
	EyeClosing
	EyeClosed
	EyeOpening
)

func (s EyeState) String() string {
	switch s {
	case EyeOpen:
		return "open"
	case EyeClosing:
		return "closing"
	case EyeClosed:
		return "closed"
	case EyeOpening:
		return "opening"
	default:
		return "unknown"
	}
}

// EyeStateDetector turns a stream of per-eye openness probabilities into blink
// events. Values between the close and open thresholds never change the state.
type EyeStateDetector struct {
	closeThreshold float32
	openThreshold  float32
	state          EyeState
	blinks         int
}

func NewEyeStateDetector(t EyeThresholds) *EyeStateDetector {
	return &EyeStateDetector{
		closeThreshold: t.Close,
		openThreshold:  t.Open,
		state:          EyeOpen,
	}
}

func (d *EyeStateDetector) State() EyeState {
	return d.state
}

// Blinks is the number of completed blinks since the last reset.
func (d *EyeStateDetector) Blinks() int {
	return d.blinks
}

func (d *EyeStateDetector) Reset() {
	d.state = EyeOpen
	d.blinks = 0
}

// Update feeds one observation and reports whether it completed a blink. A nil
// probability means the detector had no estimate for that eye and is read as
// fully open.
func (d *EyeStateDetector) Update(left, right *float32) bool {
	l, r := openness(left), openness(right)

	eitherClosed := l < d.closeThreshold || r < d.closeThreshold
	bothClosed := l < d.closeThreshold && r < d.closeThreshold
	eitherOpen := l > d.openThreshold || r > d.openThreshold
	bothOpen := l > d.openThreshold && r > d.openThreshold

	switch d.state {
	case EyeOpen:
		if eitherClosed {
			d.state = EyeClosing
		}
	case EyeClosing:
		if bothClosed {
			d.state = EyeClosed
		} else if bothOpen {
			d.state = EyeOpen
		}
	case EyeClosed:
		if eitherOpen {
			d.state = EyeOpening
		}
	case EyeOpening:
		if bothOpen {
			d.state = EyeOpen
			d.blinks++
			return true
		} else if bothClosed {
			d.state = EyeClosed
		}
	}
	return false
}

func openness(p *float32) float32 {
	if p == nil {
		return 1
	}
	return *p
}
