package gophisynth

import (
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/GeoffreyPlitt/debuggo"
	"github.com/cwbudde/algo-vecmath"
	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
)

var impulseDebug = debuggo.Debug("phisynth:impulse")

// ErrInvalidImpulse is returned for impulse responses that cannot be used
var ErrInvalidImpulse = errors.New("invalid impulse response")

// Web Audio convolver calibration constants
const (
	irGainCalibration           = 0.00125
	irGainCalibrationSampleRate = 44100.0
	irMinPower                  = 0.000125
)

// Reverb length bounds in seconds
const (
	minReverbLength = 0.01
	maxReverbLength = 10.0
)

// ImpulseResponse is a multi-channel impulse response at a known sample rate
type ImpulseResponse struct {
	Channels   [][]float64 // one slice per channel, equal lengths
	SampleRate int         // Hz
}

// Len returns the number of frames per channel
func (ir *ImpulseResponse) Len() int {
	if ir == nil || len(ir.Channels) == 0 {
		return 0
	}
	return len(ir.Channels[0])
}

// Validate checks that the impulse response is non-empty, rectangular and finite
func (ir *ImpulseResponse) Validate() error {
	if ir == nil || len(ir.Channels) == 0 {
		return fmt.Errorf("%w: no channels", ErrInvalidImpulse)
	}
	if ir.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be positive, got %d", ErrInvalidImpulse, ir.SampleRate)
	}
	n := len(ir.Channels[0])
	if n == 0 {
		return fmt.Errorf("%w: no samples", ErrInvalidImpulse)
	}
	for ch, samples := range ir.Channels {
		if len(samples) != n {
			return fmt.Errorf("%w: channel %d has %d samples, expected %d", ErrInvalidImpulse, ch, len(samples), n)
		}
		for i, v := range samples {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: non-finite sample at channel %d index %d", ErrInvalidImpulse, ch, i)
			}
		}
	}
	return nil
}

// impulseGenerator synthesizes decaying-noise impulse responses
type impulseGenerator struct {
	rng *rand.Rand
}

func newImpulseGenerator(seed int64) *impulseGenerator {
	return &impulseGenerator{rng: rand.New(rand.NewSource(seed))}
}

// Generate returns white noise shaped by a quadratic decay, one independent
// noise sequence per channel: ir[n] = (2*rand - 1) * (1 - n/N)^2
func (g *impulseGenerator) Generate(seconds float64, sampleRate, channels int) *ImpulseResponse {
	seconds = clamp(seconds, minReverbLength, maxReverbLength)
	n := int(math.Round(seconds * float64(sampleRate)))
	if n < 1 {
		n = 1
	}

	envelope := make([]float64, n)
	for i := range envelope {
		decay := 1 - float64(i)/float64(n)
		envelope[i] = decay * decay
	}

	ir := &ImpulseResponse{
		Channels:   make([][]float64, channels),
		SampleRate: sampleRate,
	}
	for ch := range ir.Channels {
		noise := make([]float64, n)
		for i := range noise {
			noise[i] = 2*g.rng.Float64() - 1
		}
		vecmath.MulBlockInPlace(noise, envelope)
		ir.Channels[ch] = noise
	}

	impulseDebug("Generated impulse response: %.3fs, %d frames, %d channels", seconds, n, channels)
	return ir
}

// prepareImpulse converts ir into per-channel kernels at the engine rate and
// channel count, optionally normalized.
func prepareImpulse(ir *ImpulseResponse, sampleRate, channels int, normalize bool) ([][]float64, error) {
	if err := ir.Validate(); err != nil {
		return nil, err
	}

	kernels := make([][]float64, channels)
	for ch := range kernels {
		src := ir.Channels[min(ch, len(ir.Channels)-1)]
		if ir.SampleRate != sampleRate {
			kernels[ch] = resampleLinear(src, float64(ir.SampleRate)/float64(sampleRate))
		} else {
			kernels[ch] = append([]float64(nil), src...)
		}
	}

	if normalize {
		scale := normalizationScale(kernels, sampleRate)
		for _, k := range kernels {
			for i := range k {
				k[i] *= scale
			}
		}
		impulseDebug("Normalized impulse response by %.6f", scale)
	}

	return kernels, nil
}

// normalizationScale follows the Web Audio ConvolverNode calibration: scale
// by the inverse RMS power, then apply a fixed calibration gain relative to
// a 44.1kHz reference.
func normalizationScale(kernels [][]float64, sampleRate int) float64 {
	var power float64
	count := 0
	for _, k := range kernels {
		for _, v := range k {
			power += v * v
		}
		count += len(k)
	}
	power = math.Sqrt(power / float64(count))
	if power < irMinPower || math.IsNaN(power) {
		power = irMinPower
	}

	scale := 1 / power
	scale *= irGainCalibration
	scale *= irGainCalibrationSampleRate / float64(sampleRate)
	return scale
}

// resampleLinear resamples src by step input frames per output frame using
// linear interpolation between neighbouring samples.
func resampleLinear(src []float64, step float64) []float64 {
	outLen := int(math.Ceil(float64(len(src)) / step))
	if outLen < 1 {
		outLen = 1
	}
	out := make([]float64, outLen)
	for i := range out {
		position := float64(i) * step
		intPos := int(position)
		fracPos := position - float64(intPos)

		if intPos >= len(src) {
			break
		}
		sample1 := src[intPos]
		sample2 := sample1
		if intPos+1 < len(src) {
			sample2 = src[intPos+1]
		}
		out[i] = sample1 + fracPos*(sample2-sample1)
	}
	return out
}

// LoadImpulseFile loads a WAV or FLAC file as an impulse response
func LoadImpulseFile(filePath string) (*ImpulseResponse, error) {
	impulseDebug("Loading impulse response: %s", filePath)

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("impulse response file not found: %s", filePath)
	}

	ext := strings.ToLower(filepath.Ext(filePath))

	var ir *ImpulseResponse
	var err error

	switch ext {
	case ".wav":
		ir, err = loadWAV(filePath)
	case ".flac":
		ir, err = loadFLAC(filePath)
	default:
		return nil, fmt.Errorf("unsupported audio format: %s (supported: .wav, .flac)", ext)
	}
	if err != nil {
		return nil, err
	}

	impulseDebug("Loaded impulse response: %s (rate: %d Hz, channels: %d, length: %d frames)",
		filePath, ir.SampleRate, len(ir.Channels), ir.Len())
	return ir, nil
}

// normalizePCM maps a signed integer PCM sample to [-1, 1) for the given bit depth
func normalizePCM(sample int, bitDepth int) float64 {
	switch bitDepth {
	case 8:
		return float64(sample) / 128.0
	case 24:
		return float64(sample) / 8388608.0
	case 32:
		return float64(sample) / 2147483648.0
	default:
		return float64(sample) / 32768.0
	}
}

func loadWAV(filePath string) (*ImpulseResponse, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAV file %s: %w", filePath, err)
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("invalid WAV file: %s", filePath)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data from %s: %w", filePath, err)
	}

	channels := buf.Format.NumChannels
	if channels <= 0 {
		return nil, fmt.Errorf("invalid channel count in %s: %d", filePath, channels)
	}

	frames := len(buf.Data) / channels
	ir := &ImpulseResponse{
		Channels:   make([][]float64, channels),
		SampleRate: buf.Format.SampleRate,
	}
	for ch := range ir.Channels {
		ir.Channels[ch] = make([]float64, frames)
	}
	bitDepth := int(decoder.BitDepth)
	for i := 0; i < frames*channels; i++ {
		sample := buf.Data[i]
		if bitDepth == 8 {
			sample -= 128 // 8-bit WAV is unsigned
		}
		ir.Channels[i%channels][i/channels] = normalizePCM(sample, bitDepth)
	}
	return ir, nil
}

func loadFLAC(filePath string) (*ImpulseResponse, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open FLAC file %s: %w", filePath, err)
	}
	defer file.Close()

	stream, err := flac.New(file)
	if err != nil {
		return nil, fmt.Errorf("failed to create FLAC decoder for %s: %w", filePath, err)
	}
	defer stream.Close()

	info := stream.Info
	if info == nil {
		return nil, fmt.Errorf("no stream info available for FLAC file: %s", filePath)
	}

	channels := int(info.NChannels)
	bitsPerSample := int(info.BitsPerSample)
	ir := &ImpulseResponse{
		Channels:   make([][]float64, channels),
		SampleRate: int(info.SampleRate),
	}

	for {
		frame, err := stream.ParseNext()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to read FLAC frame from %s: %w", filePath, err)
		}

		for ch := 0; ch < channels; ch++ {
			for _, sample := range frame.Subframes[ch].Samples {
				ir.Channels[ch] = append(ir.Channels[ch], normalizePCM(int(sample), bitsPerSample))
			}
		}
	}

	return ir, nil
}
