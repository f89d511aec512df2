package gophisynth

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Stream adapts an Engine, which renders fixed-size blocks, to hosts that ask
// for arbitrary frame counts. It renders a block whenever the previous one is
// used up. A Stream belongs to the render context: one goroutine at a time.
type Stream struct {
	engine   *Engine
	channels int

	block []float32 // one interleaved block
	pos   int       // next unread frame in block
	avail int       // frames in block
}

// NewStream creates a stream over e
func NewStream(e *Engine) *Stream {
	return &Stream{
		engine:   e,
		channels: e.Channels(),
		block:    make([]float32, e.BlockSize()*e.Channels()),
	}
}

func (s *Stream) fill() error {
	if err := s.engine.RenderInterleaved(s.block); err != nil {
		return err
	}
	s.pos = 0
	s.avail = len(s.block) / s.channels
	return nil
}

// next returns the interleaved samples of the next available frames, at most
// max frames, rendering a new block if needed.
func (s *Stream) next(max int) ([]float32, error) {
	if s.pos >= s.avail {
		if err := s.fill(); err != nil {
			return nil, err
		}
	}
	n := min(max, s.avail-s.pos)
	chunk := s.block[s.pos*s.channels : (s.pos+n)*s.channels]
	s.pos += n
	return chunk, nil
}

// ReadInterleaved fills out with interleaved frames. len(out) must be a
// multiple of the channel count.
func (s *Stream) ReadInterleaved(out []float32) error {
	if len(out)%s.channels != 0 {
		return fmt.Errorf("%w: %d samples is not a whole number of %d-channel frames",
			ErrBlockShape, len(out), s.channels)
	}
	for len(out) > 0 {
		chunk, err := s.next(len(out) / s.channels)
		if err != nil {
			return err
		}
		out = out[copy(out, chunk):]
	}
	return nil
}

// ReadFrames fills per-channel buffers of equal length
func (s *Stream) ReadFrames(out [][]float32) error {
	if len(out) != s.channels {
		return fmt.Errorf("%w: expected %d channels, got %d", ErrBlockShape, s.channels, len(out))
	}
	frames := len(out[0])
	for ch := range out {
		if len(out[ch]) != frames {
			return fmt.Errorf("%w: channel %d has %d frames, channel 0 has %d",
				ErrBlockShape, ch, len(out[ch]), frames)
		}
	}

	done := 0
	for done < frames {
		chunk, err := s.next(frames - done)
		if err != nil {
			return err
		}
		n := len(chunk) / s.channels
		for i := 0; i < n; i++ {
			for ch := range out {
				out[ch][done+i] = chunk[i*s.channels+ch]
			}
		}
		done += n
	}
	return nil
}

// Read implements io.Reader with interleaved float32 little-endian samples.
// Only whole frames are written.
func (s *Stream) Read(p []byte) (int, error) {
	frameBytes := 4 * s.channels
	frames := len(p) / frameBytes
	if frames == 0 {
		return 0, io.ErrShortBuffer
	}

	written := 0
	for frames > 0 {
		chunk, err := s.next(frames)
		if err != nil {
			return written, err
		}
		for _, v := range chunk {
			binary.LittleEndian.PutUint32(p[written:], math.Float32bits(v))
			written += 4
		}
		frames -= len(chunk) / s.channels
	}
	return written, nil
}
