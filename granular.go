package gophisynth

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-dsp/dsp/effects"
)

// GranularEffectName is the registry name of the granular unit
const GranularEffectName = "granular"

// Granular parameter names
const (
	ParamGrainSize          = "grainSize"
	ParamGrainDensity       = "grainDensity"
	ParamGrainRandomization = "grainRandomization"
)

const (
	defaultGrainSeconds       = 0.08
	defaultGrainDensity       = 25.0 // grains per second
	defaultGrainRandomization = 0.1

	minGrainSeconds = 0.005
	maxGrainSeconds = 0.5
	minGrainDensity = 1.0
	maxGrainDensity = 200.0
	maxGrainOverlap = 0.95
)

// Granular runs one algo-dsp granular processor per channel. Grain density
// in grains per second is translated into the processor's overlap for the
// current grain length. The unit is transparent while mix is 0.
type Granular struct {
	sampleRate    float64
	grainSeconds  float64
	density       float64
	randomization float64
	mix           float64

	units []*effects.Granular
}

// NewGranular creates an uninitialized granular unit with default settings
func NewGranular() *Granular {
	return &Granular{
		grainSeconds:  defaultGrainSeconds,
		density:       defaultGrainDensity,
		randomization: defaultGrainRandomization,
	}
}

func (g *Granular) Name() string { return GranularEffectName }

// Init creates and configures one processor per channel
func (g *Granular) Init(sampleRate float64, channels, blockSize int) error {
	if channels <= 0 {
		return fmt.Errorf("granular channel count must be > 0: %d", channels)
	}

	units := make([]*effects.Granular, channels)
	for ch := range units {
		u, err := effects.NewGranular(sampleRate)
		if err != nil {
			return err
		}
		units[ch] = u
	}

	g.sampleRate = sampleRate
	g.units = units
	return g.configure()
}

func (g *Granular) configure() error {
	for _, u := range g.units {
		if err := u.SetGrainSeconds(g.grainSeconds); err != nil {
			return err
		}
		if err := u.SetOverlap(g.overlap()); err != nil {
			return err
		}
		if err := u.SetSpray(g.randomization); err != nil {
			return err
		}
		if err := u.SetMix(g.mix); err != nil {
			return err
		}
	}
	return nil
}

// overlap is the grain overlap that spawns density grains per second
func (g *Granular) overlap() float64 {
	return clamp(1-1/(g.density*g.grainSeconds), 0, maxGrainOverlap)
}

// Seed reseeds the grain position jitter. Channels get consecutive seeds.
func (g *Granular) Seed(seed int64) {
	for ch, u := range g.units {
		u.SetRandomSeed(seed + int64(ch))
	}
}

// SetParameter clamps and applies one parameter. Unknown names are ignored.
func (g *Granular) SetParameter(name string, value float64) {
	if math.IsNaN(value) {
		return
	}
	switch name {
	case ParamGrainSize:
		g.grainSeconds = clamp(value, minGrainSeconds, maxGrainSeconds)
		for _, u := range g.units {
			if err := u.SetGrainSeconds(g.grainSeconds); err != nil {
				effectsDebug("granular grain size %f rejected: %v", g.grainSeconds, err)
			}
		}
		g.applyOverlap()
	case ParamGrainDensity:
		g.density = clamp(value, minGrainDensity, maxGrainDensity)
		g.applyOverlap()
	case ParamGrainRandomization:
		g.randomization = clamp(value, 0, 1)
		for _, u := range g.units {
			_ = u.SetSpray(g.randomization)
		}
	case ParamMix:
		g.mix = clamp(value, 0, 1)
		for _, u := range g.units {
			_ = u.SetMix(g.mix)
		}
	}
}

func (g *Granular) applyOverlap() {
	overlap := g.overlap()
	for _, u := range g.units {
		_ = u.SetOverlap(overlap)
	}
}

// Process applies granular re-synthesis to every channel in place
func (g *Granular) Process(block [][]float64) {
	for ch := range block {
		if ch >= len(g.units) {
			break
		}
		g.units[ch].ProcessInPlace(block[ch])
	}
}
