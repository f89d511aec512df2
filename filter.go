package gophisynth

import (
	"math"

	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
	"github.com/cwbudde/algo-dsp/dsp/filter/design"
)

// Filter parameter names
const (
	ParamCutoff    = "cutoff"
	ParamQ         = "q"
	aliasCutoffHz  = "cutoffHz"
	aliasFrequency = "frequency"
	aliasResonance = "resonance"
)

// Filter defaults and bounds
const (
	DefaultCutoff = 2000.0
	DefaultQ      = 1.0

	minCutoff       = 1.0
	maxCutoffRatio  = 0.49 // of the sample rate
	minQ            = 0.01
	maxQ            = 40.0
	filterIdleLevel = 1e-12
)

// FilterStage is a resonant low-pass biquad (RBJ cookbook) processed in
// Direct Form II Transposed. Changing cutoff or Q redesigns the coefficients
// and keeps the delay line, so parameter moves do not reset the signal.
type FilterStage struct {
	sampleRate float64
	cutoff     float64
	q          float64
	section    *biquad.Section
}

// NewFilterStage creates a low-pass stage at the default cutoff and Q
func NewFilterStage(sampleRate float64) *FilterStage {
	f := &FilterStage{
		sampleRate: sampleRate,
		cutoff:     DefaultCutoff,
		q:          DefaultQ,
		section:    biquad.NewSection(biquad.Coefficients{}),
	}
	f.cutoff = clamp(f.cutoff, minCutoff, sampleRate*maxCutoffRatio)
	f.updateCoefficients()
	return f
}

// Cutoff returns the cutoff frequency in Hz
func (f *FilterStage) Cutoff() float64 { return f.cutoff }

// Q returns the resonance
func (f *FilterStage) Q() float64 { return f.q }

// SetCutoff sets the cutoff frequency, clamped to (0, fs/2)
func (f *FilterStage) SetCutoff(hz float64) {
	f.cutoff = clamp(hz, minCutoff, f.sampleRate*maxCutoffRatio)
	f.updateCoefficients()
}

// SetQ sets the resonance, clamped to [0.01, 40]
func (f *FilterStage) SetQ(q float64) {
	f.q = clamp(q, minQ, maxQ)
	f.updateCoefficients()
}

// SetParam updates cutoff or Q by name. It returns false for an unknown name.
func (f *FilterStage) SetParam(name string, value float64) bool {
	switch name {
	case ParamCutoff, aliasCutoffHz, aliasFrequency:
		f.SetCutoff(value)
	case ParamQ, aliasResonance:
		f.SetQ(value)
	default:
		return false
	}
	return true
}

func (f *FilterStage) updateCoefficients() {
	f.section.Coefficients = design.Lowpass(f.cutoff, f.q, f.sampleRate)
}

// ProcessSample filters one sample
func (f *FilterStage) ProcessSample(x float64) float64 {
	return f.section.ProcessSample(x)
}

// ProcessBlock filters buf in place
func (f *FilterStage) ProcessBlock(buf []float64) {
	f.section.ProcessBlock(buf)
}

// Idle reports whether the delay line has decayed to silence
func (f *FilterStage) Idle() bool {
	d := f.section.State()
	return math.Abs(d[0]) < filterIdleLevel && math.Abs(d[1]) < filterIdleLevel
}

// Reset clears the delay line
func (f *FilterStage) Reset() {
	f.section.Reset()
}
