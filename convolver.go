package gophisynth

import (
	"errors"
	"fmt"

	algofft "github.com/MeKo-Christian/algo-fft"
)

// Convolution errors
var (
	ErrEmptyKernel    = errors.New("empty impulse response")
	ErrLengthMismatch = errors.New("buffer length mismatch")
)

// convolver implements uniformly partitioned overlap-save convolution of one
// mono input against one impulse response per output channel.
//
// Every block of blockSize input samples costs one forward FFT of size
// 2*blockSize (shared by all channels), one complex multiply-accumulate per
// partition and channel, and one inverse FFT per channel. Latency is zero:
// the output block is aligned with the input block.
//
// A convolver is built entirely in the control context (plans, spectra and
// delay line) so the render context only has to swap a pointer.
type convolver struct {
	blockSize  int
	fftSize    int
	partitions int
	channels   int
	kernelLen  int

	plan *algofft.Plan[complex128]

	// kernels[ch][p] is the spectrum of partition p of channel ch
	kernels [][][]complex128

	// frequency-domain delay line of input spectra, fdl[head] is the newest
	fdl  [][]complex128
	head int

	window  []float64 // previous + current input block
	scratch []complex128
	acc     []complex128

	silentBlocks int // consecutive all-zero input blocks
}

// newConvolver prepares a convolver for the per-channel impulse responses ir.
// All channels must have the same, non-zero length.
func newConvolver(ir [][]float64, blockSize int) (*convolver, error) {
	if len(ir) == 0 || len(ir[0]) == 0 {
		return nil, ErrEmptyKernel
	}
	if blockSize <= 0 {
		return nil, fmt.Errorf("block size must be positive, got %d", blockSize)
	}

	kernelLen := len(ir[0])
	for ch := range ir {
		if len(ir[ch]) != kernelLen {
			return nil, fmt.Errorf("%w: channel %d has %d samples, expected %d",
				ErrLengthMismatch, ch, len(ir[ch]), kernelLen)
		}
	}

	fftSize := 2 * blockSize
	plan, err := algofft.NewPlan64(fftSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create FFT plan: %w", err)
	}

	partitions := (kernelLen + blockSize - 1) / blockSize

	c := &convolver{
		blockSize:  blockSize,
		fftSize:    fftSize,
		partitions: partitions,
		channels:   len(ir),
		kernelLen:  kernelLen,
		plan:       plan,
		kernels:    make([][][]complex128, len(ir)),
		fdl:        make([][]complex128, partitions),
		window:     make([]float64, fftSize),
		scratch:    make([]complex128, fftSize),
		acc:        make([]complex128, fftSize),
	}

	for p := range c.fdl {
		c.fdl[p] = make([]complex128, fftSize)
	}

	padded := make([]complex128, fftSize)
	for ch, samples := range ir {
		c.kernels[ch] = make([][]complex128, partitions)
		for p := 0; p < partitions; p++ {
			clear(padded)
			start := p * blockSize
			end := min(start+blockSize, kernelLen)
			for i, v := range samples[start:end] {
				padded[i] = complex(v, 0)
			}

			spectrum := make([]complex128, fftSize)
			if err := plan.Forward(spectrum, padded); err != nil {
				return nil, fmt.Errorf("failed to compute kernel FFT: %w", err)
			}
			c.kernels[ch][p] = spectrum
		}
	}

	return c, nil
}

// Channels returns the number of output channels
func (c *convolver) Channels() int { return c.channels }

// KernelLen returns the impulse response length in samples
func (c *convolver) KernelLen() int { return c.kernelLen }

// Idle reports whether the whole delay line holds silence, so processing a
// silent block would produce silence.
func (c *convolver) Idle() bool {
	return c.silentBlocks >= c.partitions+1
}

// ProcessBlock convolves one input block into out[ch] for every channel.
// len(input) and len(out[ch]) must equal the block size.
func (c *convolver) ProcessBlock(input []float64, out [][]float64) error {
	if len(input) != c.blockSize {
		return fmt.Errorf("%w: expected %d input samples, got %d", ErrLengthMismatch, c.blockSize, len(input))
	}
	if len(out) < c.channels {
		return fmt.Errorf("%w: expected %d output channels, got %d", ErrLengthMismatch, c.channels, len(out))
	}

	silent := true
	for _, v := range input {
		if v != 0 {
			silent = false
			break
		}
	}
	if silent {
		c.silentBlocks++
	} else {
		c.silentBlocks = 0
	}

	// slide the input window: old block on the left, new block on the right
	copy(c.window[:c.blockSize], c.window[c.blockSize:])
	copy(c.window[c.blockSize:], input)

	c.head--
	if c.head < 0 {
		c.head = c.partitions - 1
	}
	newest := c.fdl[c.head]
	for i, v := range c.window {
		c.scratch[i] = complex(v, 0)
	}
	if err := c.plan.Forward(newest, c.scratch); err != nil {
		return fmt.Errorf("forward FFT failed: %w", err)
	}

	for ch := 0; ch < c.channels; ch++ {
		clear(c.acc)
		for p := 0; p < c.partitions; p++ {
			x := c.fdl[(c.head+p)%c.partitions]
			k := c.kernels[ch][p]
			for i := range c.acc {
				c.acc[i] += x[i] * k[i]
			}
		}

		if err := c.plan.Inverse(c.scratch, c.acc); err != nil {
			return fmt.Errorf("inverse FFT failed: %w", err)
		}

		// overlap-save: only the right half is free of circular wrap
		dst := out[ch][:c.blockSize]
		for i := range dst {
			dst[i] = real(c.scratch[c.blockSize+i])
		}
	}

	return nil
}

// inheritHistory takes over the input history of prev so output continues
// from the signal already fed to prev. Spectra older than prev keeps are
// treated as silence. It does not allocate and ignores a convolver with a
// different block size.
func (c *convolver) inheritHistory(prev *convolver) {
	if prev == nil || prev == c || prev.blockSize != c.blockSize {
		return
	}

	copy(c.window, prev.window)
	n := min(c.partitions, prev.partitions)
	for p := 0; p < c.partitions; p++ {
		dst := c.fdl[(c.head+p)%c.partitions]
		if p < n {
			copy(dst, prev.fdl[(prev.head+p)%prev.partitions])
		} else {
			clear(dst)
		}
	}
	c.silentBlocks = prev.silentBlocks
}

// Reset clears the input history
func (c *convolver) Reset() {
	clear(c.window)
	for _, spectrum := range c.fdl {
		clear(spectrum)
	}
	c.head = 0
	c.silentBlocks = 0
}
