package gophisynth

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-dsp/dsp/effects/pitch"
	"github.com/cwbudde/algo-vecmath"
)

// PitchShiftEffectName is the registry name of the pitch-shift unit
const PitchShiftEffectName = "pitchshift"

// Pitch shift parameter names
const (
	ParamPitchShiftAmount   = "pitchShiftAmount"
	ParamPitchShiftFeedback = "pitchShiftFeedback"
)

const (
	minPitchShiftSemitones = -24.0
	maxPitchShiftSemitones = 24.0
	maxPitchShiftFeedback  = 0.95

	// analysis frames are the next power of two above this many seconds
	pitchShiftFrameSeconds = 0.08

	pitchShiftSequenceMs = 40.0
	pitchShiftOverlapMs  = 8.0
	pitchShiftSearchMs   = 8.0
)

type pitchChannel struct {
	shifter *pitch.PitchShifter
	history []float64 // last frame of input, oldest first
	pending []float64 // input collected since the last hop
	ola     []float64 // overlap-add accumulator, ola[:hop] is being played
	work    []float64
	pos     int // index into pending and ola[:hop]
	last    float64
}

// PitchShift runs an algo-dsp WSOLA pitch shifter per channel. The shifter
// works on whole buffers, so input is collected into half-overlapping frames
// that are shifted, Hann-windowed and overlap-added, at a latency of one
// frame. The shifted signal can be fed back into the input. The unit is
// transparent while mix is 0.
type PitchShift struct {
	sampleRate float64
	semitones  float64
	ratio      float64
	feedback   float64
	mix        float64

	frame    int
	hop      int
	window   []float64
	channels []pitchChannel
}

// NewPitchShift creates an uninitialized pitch shifter with no shift
func NewPitchShift() *PitchShift {
	return &PitchShift{ratio: 1}
}

func (p *PitchShift) Name() string { return PitchShiftEffectName }

// Init creates one shifter and its frame buffers per channel
func (p *PitchShift) Init(sampleRate float64, channels, blockSize int) error {
	if channels <= 0 {
		return fmt.Errorf("pitch shift channel count must be > 0: %d", channels)
	}

	cs := make([]pitchChannel, channels)
	for ch := range cs {
		s, err := newPitchShifter(sampleRate)
		if err != nil {
			return err
		}
		cs[ch].shifter = s
	}

	p.sampleRate = sampleRate
	p.frame = nextPowerOfTwo(int(math.Ceil(pitchShiftFrameSeconds * sampleRate)))
	p.hop = p.frame / 2
	p.window = make([]float64, p.frame)
	for i := range p.window {
		p.window[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(p.frame))
	}
	for ch := range cs {
		c := &cs[ch]
		c.history = make([]float64, p.frame)
		c.pending = make([]float64, p.hop)
		c.ola = make([]float64, p.frame)
		c.work = make([]float64, p.frame)
	}
	p.channels = cs
	return nil
}

func newPitchShifter(sampleRate float64) (*pitch.PitchShifter, error) {
	s, err := pitch.NewPitchShifter(sampleRate)
	if err != nil {
		return nil, err
	}
	if err := s.SetSequence(pitchShiftSequenceMs); err != nil {
		return nil, err
	}
	if err := s.SetOverlap(pitchShiftOverlapMs); err != nil {
		return nil, err
	}
	if err := s.SetSearch(pitchShiftSearchMs); err != nil {
		return nil, err
	}
	return s, nil
}

// SetParameter clamps and applies one parameter. Unknown names are ignored.
func (p *PitchShift) SetParameter(name string, value float64) {
	if math.IsNaN(value) {
		return
	}
	switch name {
	case ParamPitchShiftAmount:
		p.semitones = clamp(value, minPitchShiftSemitones, maxPitchShiftSemitones)
		p.ratio = math.Pow(2, p.semitones/12)
		for _, c := range p.channels {
			if err := c.shifter.SetPitchSemitones(p.semitones); err != nil {
				effectsDebug("pitch shift of %f semitones rejected: %v", p.semitones, err)
			}
		}
	case ParamPitchShiftFeedback:
		p.feedback = clamp(value, 0, maxPitchShiftFeedback)
	case ParamMix:
		p.mix = clamp(value, 0, 1)
	}
}

// Semitones returns the current shift
func (p *PitchShift) Semitones() float64 { return p.semitones }

// Latency returns the delay of the shifted signal in samples
func (p *PitchShift) Latency() int { return p.frame }

// Process shifts every channel in place
func (p *PitchShift) Process(block [][]float64) {
	for ch := range block {
		if ch >= len(p.channels) {
			break
		}
		c := &p.channels[ch]
		buf := block[ch]
		for i, x := range buf {
			y := p.processSample(c, x)
			if p.mix > 0 {
				buf[i] = x*(1-p.mix) + y*p.mix
			}
		}
	}
}

func (p *PitchShift) processSample(c *pitchChannel, input float64) float64 {
	y := c.ola[c.pos]
	c.pending[c.pos] = input + p.feedback*c.last
	c.last = y
	c.pos++
	if c.pos == p.hop {
		p.advance(c)
		c.pos = 0
	}
	return y
}

// advance shifts one frame ending at the newest input into the accumulator
func (p *PitchShift) advance(c *pitchChannel) {
	copy(c.history, c.history[p.hop:])
	copy(c.history[p.frame-p.hop:], c.pending)

	copy(c.work, c.history)
	c.shifter.ProcessInPlace(c.work)
	vecmath.MulBlockInPlace(c.work, p.window)

	copy(c.ola, c.ola[p.hop:])
	clear(c.ola[p.frame-p.hop:])
	for i, v := range c.work {
		c.ola[i] += v
	}
}

func nextPowerOfTwo(n int) int {
	size := 1
	for size < n {
		size <<= 1
	}
	return size
}
