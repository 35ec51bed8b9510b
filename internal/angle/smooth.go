package angle

import "math"

// DefaultAlpha is the smoothing factor used when an exercise does not set one.
const DefaultAlpha = 0.2

// Smooth applies one exponential moving average step.
func Smooth(prev, raw, alpha float64) float64 {
	return prev + alpha*(raw-prev)
}

// Smoother holds the smoothed angle for one tracked side.
type Smoother struct {
	alpha  float64
	seed   float64
	value  float64
	primed bool
}

// NewSmoother creates a smoother. An alpha outside (0,1] falls back to
// DefaultAlpha. A NaN seed means the first sample initializes the value.
func NewSmoother(alpha, seed float64) *Smoother {
	if !(alpha > 0 && alpha <= 1) {
		alpha = DefaultAlpha
	}
	s := &Smoother{alpha: alpha, seed: seed}
	s.Reset()
	return s
}

// Update folds raw into the smoothed value and returns it.
func (s *Smoother) Update(raw float64) float64 {
	if !s.primed {
		s.value = raw
		s.primed = true
		return s.value
	}
	s.value = Smooth(s.value, raw, s.alpha)
	return s.value
}

// Value returns the current smoothed value and whether any sample (or seed) set it.
func (s *Smoother) Value() (float64, bool) {
	return s.value, s.primed
}

// Alpha returns the effective smoothing factor.
func (s *Smoother) Alpha() float64 {
	return s.alpha
}

// Reset returns the smoother to its seed.
func (s *Smoother) Reset() {
	if math.IsNaN(s.seed) {
		s.value = 0
		s.primed = false
		return
	}
	s.value = s.seed
	s.primed = true
}
