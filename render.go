package gophisynth

import (
	"errors"
	"fmt"
)

// ErrBlockShape is returned when the host passes an output block that does
// not match the configured channel count and block size.
var ErrBlockShape = errors.New("output block shape mismatch")

// renderer holds everything owned by the render context. Nothing in here is
// touched by control methods; they only reach it through the ParameterChannel.
type renderer struct {
	blockSize int
	channels  int

	voices []*Voice
	bus    *Bus
	reverb *ReverbUnit
	chain  *EffectChain

	scratch [][]float64 // float64 block for the float32 entry points

	applyFn   func(u *Update)
	dropped   uint64
	dirty     bool
	published publishedState
}

func newRenderer(cfg *Config, voices []*Voice, reverb *ReverbUnit, chain *EffectChain) *renderer {
	r := &renderer{
		blockSize: cfg.BlockSize,
		channels:  cfg.Channels,
		voices:    voices,
		bus:       newBus(cfg.BlockSize, cfg.ContinuousEnvelope),
		reverb:    reverb,
		chain:     chain,
		scratch:   make([][]float64, cfg.Channels),
		dirty:     true,
		published: newPublishedState(len(voices), len(chain.stages)),
	}
	for ch := range r.scratch {
		r.scratch[ch] = make([]float64, cfg.BlockSize)
	}
	r.applyFn = r.apply
	return r
}

// apply executes one update against the render-side graph
func (r *renderer) apply(u *Update) {
	switch u.Target.Kind {
	case TargetVoice, TargetFilter:
		if u.Target.ID < 0 || u.Target.ID >= len(r.voices) {
			r.dropped++
			return
		}
		v := r.voices[u.Target.ID]
		if u.Target.Kind == TargetFilter {
			if !v.filter.SetParam(u.Name, u.Value) {
				r.dropped++
			}
			return
		}
		if u.Name == paramRunning {
			if u.Value != 0 {
				v.Start()
			} else {
				v.Stop()
			}
			return
		}
		if !v.SetParam(u.Name, u.Value) {
			r.dropped++
		}
	case TargetReverb:
		if u.kernel != nil {
			r.reverb.swapKernel(u.kernel)
			return
		}
		if !r.reverb.SetParam(u.Name, u.Value) {
			r.dropped++
		}
	case TargetEffect:
		if !r.chain.SetParameter(u.Target.Effect, u.Name, u.Value) {
			r.dropped++
		}
	default:
		r.dropped++
	}
}

// render walks the graph for one block: voices through their filters into
// the master bus, the bus through the reverb send into out, then the effect
// chain over out.
func (r *renderer) render(out [][]float64) {
	master := r.bus.Mix(r.voices)

	if err := r.reverb.Process(master, out); err != nil {
		// keep the dry path alive if the convolver rejects the block
		r.reverb.processDry(master, out)
	}

	r.chain.Process(out)
}

// RenderBlock renders one block into out, which must hold Channels slices of
// BlockSize samples. It is the render context entry point: call it from one
// goroutine at a time, typically the host audio callback.
func (e *Engine) RenderBlock(out [][]float64) error {
	if err := e.checkShape(len(out), func(ch int) int { return len(out[ch]) }); err != nil {
		return err
	}
	e.renderBlock(out)
	return nil
}

// Render renders one block into per-channel float32 buffers
func (e *Engine) Render(out [][]float32) error {
	if err := e.checkShape(len(out), func(ch int) int { return len(out[ch]) }); err != nil {
		return err
	}
	r := e.r
	e.renderBlock(r.scratch)
	for ch := range out {
		src := r.scratch[ch]
		dst := out[ch]
		for i, v := range src {
			dst[i] = float32(v)
		}
	}
	return nil
}

// RenderInterleaved renders one block into an interleaved float32 buffer of
// BlockSize*Channels samples.
func (e *Engine) RenderInterleaved(out []float32) error {
	r := e.r
	if len(out) != r.blockSize*r.channels {
		return fmt.Errorf("%w: expected %d interleaved samples, got %d",
			ErrBlockShape, r.blockSize*r.channels, len(out))
	}
	e.renderBlock(r.scratch)
	for ch, src := range r.scratch {
		for i, v := range src {
			out[i*r.channels+ch] = float32(v)
		}
	}
	return nil
}

func (e *Engine) checkShape(channels int, frames func(ch int) int) error {
	r := e.r
	if channels != r.channels {
		return fmt.Errorf("%w: expected %d channels, got %d", ErrBlockShape, r.channels, channels)
	}
	for ch := 0; ch < channels; ch++ {
		if n := frames(ch); n != r.blockSize {
			return fmt.Errorf("%w: channel %d has %d frames, expected %d", ErrBlockShape, ch, n, r.blockSize)
		}
	}
	return nil
}

func (e *Engine) renderBlock(out [][]float64) {
	r := e.r
	if e.params.Drain(r.applyFn) > 0 {
		r.dirty = true
	}

	r.render(out)
	blocks := e.blocks.Add(1)

	if r.dropped > 0 {
		e.dropped.Add(r.dropped)
		r.dropped = 0
	}
	e.publish(blocks)
}

// publish copies parameter state for Snapshot. It never waits: if a reader
// holds the lock the copy is retried after the next block.
func (e *Engine) publish(blocks uint64) {
	r := e.r
	if !r.dirty {
		return
	}
	if !e.snapMu.TryLock() {
		return
	}
	r.published.capture(blocks, r.voices, r.reverb, r.chain)
	e.snapMu.Unlock()
	r.dirty = false
}

// flushSnapshot publishes any state a skipped publish left behind. It waits
// for the lock, so it is only called from the rendering goroutine once it
// has stopped rendering.
func (e *Engine) flushSnapshot() {
	e.snapMu.Lock()
	defer e.snapMu.Unlock()
	r := e.r
	if !r.dirty {
		return
	}
	r.published.capture(e.blocks.Load(), r.voices, r.reverb, r.chain)
	r.dirty = false
}
