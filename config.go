package gophisynth

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig is returned by NewEngine when the configuration cannot be used.
var ErrInvalidConfig = errors.New("invalid engine config")

// Default engine settings
const (
	DefaultSampleRate = 48000
	DefaultBlockSize  = 256
	DefaultChannels   = 2
	DefaultVoices     = 3
	DefaultQueueSize  = 1024

	DefaultReverbLength  = 2.0 // seconds
	DefaultReverbOnLevel = 0.5
)

// Config holds everything needed to build an Engine.
type Config struct {
	SampleRate int // Hz
	BlockSize  int // frames per rendered block
	Channels   int // output channels (1 or 2)
	Voices     int // fixed voice count
	QueueSize  int // ParameterChannel capacity, rounded up to a power of two

	// ContinuousEnvelope makes the harmonic falloff index run across block
	// boundaries instead of restarting at every block.
	ContinuousEnvelope bool

	ReverbLength  float64 // seconds of synthesized impulse response
	ReverbOnLevel float64 // wet gain restored when the reverb is switched on
	ReverbEnabled bool
	NormalizeIR   bool
	Seed          int64 // seed for impulse noise and grain jitter

	// Effects lists effect unit names in chain order.
	Effects  []string
	Registry *EffectRegistry

	Diagnostics Diagnostics
}

// DefaultConfig returns the reference configuration: three voices, a stereo
// output, a two second reverb at 50% wet and the granular and pitch-shift
// stages after it.
func DefaultConfig() Config {
	return Config{
		SampleRate:    DefaultSampleRate,
		BlockSize:     DefaultBlockSize,
		Channels:      DefaultChannels,
		Voices:        DefaultVoices,
		QueueSize:     DefaultQueueSize,
		ReverbLength:  DefaultReverbLength,
		ReverbOnLevel: DefaultReverbOnLevel,
		ReverbEnabled: true,
		NormalizeIR:   true,
		Seed:          1,
		Effects:       []string{GranularEffectName, PitchShiftEffectName},
	}
}

// Validate checks the config and fills in zero-valued optional fields.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be positive, got %d", ErrInvalidConfig, c.SampleRate)
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("%w: block size must be positive, got %d", ErrInvalidConfig, c.BlockSize)
	}
	if c.Channels < 1 || c.Channels > 2 {
		return fmt.Errorf("%w: channels must be 1 or 2, got %d", ErrInvalidConfig, c.Channels)
	}
	if c.Voices <= 0 {
		return fmt.Errorf("%w: voice count must be positive, got %d", ErrInvalidConfig, c.Voices)
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.ReverbLength <= 0 || math.IsNaN(c.ReverbLength) {
		c.ReverbLength = DefaultReverbLength
	}
	if c.ReverbOnLevel < 0 || c.ReverbOnLevel > 1 || math.IsNaN(c.ReverbOnLevel) {
		return fmt.Errorf("%w: reverb on level must be in [0, 1], got %f", ErrInvalidConfig, c.ReverbOnLevel)
	}
	if c.Registry == nil {
		c.Registry = DefaultEffectRegistry()
	}
	if c.Diagnostics == nil {
		c.Diagnostics = DebugDiagnostics()
	}
	return nil
}

// clamp limits value to [min, max]
func clamp(value, min, max float64) float64 {
	if value > max {
		return max
	}
	if value < min {
		return min
	}
	return value
}
