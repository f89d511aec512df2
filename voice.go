package gophisynth

import (
	"math"
)

// GoldenRatio is the fractal multiplier base used by every voice
var GoldenRatio = (1 + math.Sqrt(5)) / 2

// Voice parameter names
const (
	ParamFrequency         = "frequency"
	ParamPhaseDistortion   = "phaseDistortion"
	ParamHarmonicIntensity = "harmonicIntensity"
	ParamFractalDepth      = "fractalDepth"
	ParamGain              = "gain"
)

// Voice parameter defaults and bounds
const (
	DefaultFrequency         = 440.0
	DefaultPhaseDistortion   = 0.5
	DefaultHarmonicIntensity = 0.5
	DefaultFractalDepth      = 3
	DefaultVoiceGain         = 0.2

	maxPhaseDistortion = 2.0
	minFractalDepth    = 1
	maxFractalDepth    = 5
)

// VoiceParams are the synthesis parameters of one oscillator
type VoiceParams struct {
	Frequency         float64 // Hz
	PhaseDistortion   float64 // [0, 2]
	HarmonicIntensity float64 // [0, 1]
	FractalDepth      int     // [1, 5]
}

// DefaultVoiceParams returns the parameters every voice starts with
func DefaultVoiceParams() VoiceParams {
	return VoiceParams{
		Frequency:         DefaultFrequency,
		PhaseDistortion:   DefaultPhaseDistortion,
		HarmonicIntensity: DefaultHarmonicIntensity,
		FractalDepth:      DefaultFractalDepth,
	}
}

// Voice is one phase-distortion oscillator together with its filter and
// mix level. Voices are owned by the render context.
type Voice struct {
	id         int
	params     VoiceParams
	gain       float64
	running    bool
	phase      float64 // accumulated phase in radians, never wrapped
	sampleIdx  uint64  // samples since start, for continuous envelopes
	sampleRate float64
	filter     *FilterStage

	// derived from params
	phaseInc   float64
	fractalMul float64
	falloffMod float64
}

// NewVoice creates a stopped voice with default parameters
func NewVoice(id int, sampleRate float64) *Voice {
	v := &Voice{
		id:         id,
		params:     DefaultVoiceParams(),
		gain:       DefaultVoiceGain,
		sampleRate: sampleRate,
		filter:     NewFilterStage(sampleRate),
	}
	v.updateDerived()
	return v
}

// ID returns the voice id
func (v *Voice) ID() int { return v.id }

// Params returns the current synthesis parameters
func (v *Voice) Params() VoiceParams { return v.params }

// Gain returns the mix level of the voice
func (v *Voice) Gain() float64 { return v.gain }

// Running reports whether the oscillator is producing samples
func (v *Voice) Running() bool { return v.running }

// Phase returns the accumulated oscillator phase
func (v *Voice) Phase() float64 { return v.phase }

// Filter returns the voice's low-pass stage
func (v *Voice) Filter() *FilterStage { return v.filter }

// Start moves the voice to running. Starting a running voice does nothing.
func (v *Voice) Start() {
	if v.running {
		return
	}
	v.running = true
	v.phase = 0
	v.sampleIdx = 0
}

// Stop moves the voice to stopped. The phase is not kept for the next start.
func (v *Voice) Stop() {
	if !v.running {
		return
	}
	v.running = false
	v.phase = 0
	v.sampleIdx = 0
}

// SetParam updates one parameter by name, clamping it to its valid range.
// It returns false for an unknown name.
func (v *Voice) SetParam(name string, value float64) bool {
	switch name {
	case ParamFrequency:
		v.params.Frequency = clamp(value, 0, v.sampleRate/2)
	case ParamPhaseDistortion:
		v.params.PhaseDistortion = clamp(value, 0, maxPhaseDistortion)
	case ParamHarmonicIntensity:
		v.params.HarmonicIntensity = clamp(value, 0, 1)
	case ParamFractalDepth:
		v.params.FractalDepth = int(clamp(math.Round(value), minFractalDepth, maxFractalDepth))
	case ParamGain:
		v.gain = clamp(value, 0, 1)
	default:
		return false
	}
	v.updateDerived()
	return true
}

func (v *Voice) updateDerived() {
	v.phaseInc = (v.params.Frequency / v.sampleRate) * 2 * math.Pi
	v.fractalMul = math.Pow(GoldenRatio, float64(v.params.FractalDepth))
	v.falloffMod = 5*v.params.HarmonicIntensity + 1
}

// Next advances the oscillator by one sample and returns it. i is the
// envelope index: the sample position inside the current block, or the
// running sample count for continuous envelopes.
func (v *Voice) Next(i uint64) float64 {
	d := v.params.PhaseDistortion
	v.phase += v.phaseInc
	distorted := v.phase + math.Sin(v.phase*d)*d
	// math.Mod keeps the sign of the dividend, so the exponent is never positive
	falloff := math.Pow(GoldenRatio, math.Mod(-float64(i), v.falloffMod))
	return math.Sin(distorted*v.fractalMul) * falloff
}

// Render fills buf with the next len(buf) samples. A stopped voice writes
// silence.
func (v *Voice) Render(buf []float64, continuous bool) {
	if !v.running {
		clear(buf)
		return
	}
	for i := range buf {
		idx := uint64(i)
		if continuous {
			idx = v.sampleIdx
		}
		buf[i] = v.Next(idx)
		v.sampleIdx++
	}
}
