package gophisynth

import (
	"fmt"

	"github.com/GeoffreyPlitt/debuggo"
)

var reverbDebug = debuggo.Debug("phisynth:reverb")

// Reverb parameter names
const (
	ParamMix     = "mix"
	ParamWet     = "wet"
	ParamDry     = "dry"
	ParamLength  = "length"
	ParamEnabled = "enabled"
	ParamToggle  = "toggle"
)

// reverbKernel is a prepared impulse response ready to be swapped into the
// render context.
type reverbKernel struct {
	conv          *convolver
	lengthSeconds float64
}

// newReverbKernel builds a kernel from an impulse response. This does all the
// allocation and FFT work and must run in the control context.
func newReverbKernel(ir *ImpulseResponse, cfg *Config) (*reverbKernel, error) {
	kernels, err := prepareImpulse(ir, cfg.SampleRate, cfg.Channels, cfg.NormalizeIR)
	if err != nil {
		return nil, err
	}

	conv, err := newConvolver(kernels, cfg.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("failed to build convolver: %w", err)
	}

	reverbDebug("Prepared reverb kernel: %d frames, %d partitions, %d channels",
		conv.KernelLen(), conv.partitions, conv.Channels())

	return &reverbKernel{
		conv:          conv,
		lengthSeconds: float64(conv.KernelLen()) / float64(cfg.SampleRate),
	}, nil
}

// ReverbUnit is a convolution reverb send with wet and dry gains.
//
// Toggling is gain automation, not a bypass: switching off sets the wet gain
// to 0 and switching on restores the fixed on level. The convolver keeps
// running while its tail rings out.
type ReverbUnit struct {
	kernel  *reverbKernel
	wet     float64
	dry     float64
	enabled bool
	onLevel float64

	wetIn []float64
	out   [][]float64
}

// NewReverbUnit creates a reverb with the given kernel. Initial gains follow
// the enabled flag: wet at onLevel and dry complementary, or fully dry.
func NewReverbUnit(kernel *reverbKernel, enabled bool, onLevel float64, blockSize, channels int) *ReverbUnit {
	r := &ReverbUnit{
		kernel:  kernel,
		onLevel: onLevel,
		wetIn:   make([]float64, blockSize),
		out:     make([][]float64, channels),
	}
	for ch := range r.out {
		r.out[ch] = make([]float64, blockSize)
	}
	if enabled {
		r.SetMix(onLevel)
	} else {
		r.SetMix(0)
	}
	return r
}

// Wet returns the wet gain
func (r *ReverbUnit) Wet() float64 { return r.wet }

// Dry returns the dry gain
func (r *ReverbUnit) Dry() float64 { return r.dry }

// Enabled reports whether the wet path is switched on
func (r *ReverbUnit) Enabled() bool { return r.enabled }

// LengthSeconds returns the length of the current impulse response
func (r *ReverbUnit) LengthSeconds() float64 { return r.kernel.lengthSeconds }

// SetMix sets the wet gain and keeps the dry gain complementary
func (r *ReverbUnit) SetMix(wet float64) {
	r.wet = clamp(wet, 0, 1)
	r.dry = 1 - r.wet
	r.enabled = r.wet > 0
}

// SetWet sets the wet gain alone
func (r *ReverbUnit) SetWet(wet float64) {
	r.wet = clamp(wet, 0, 1)
	r.enabled = r.wet > 0
}

// SetDry sets the dry gain alone
func (r *ReverbUnit) SetDry(dry float64) {
	r.dry = clamp(dry, 0, 1)
}

// SetEnabled switches the wet path. The dry path is never touched.
func (r *ReverbUnit) SetEnabled(enabled bool) {
	r.enabled = enabled
	if enabled {
		r.wet = r.onLevel
	} else {
		r.wet = 0
	}
}

// Toggle flips the enabled state
func (r *ReverbUnit) Toggle() {
	r.SetEnabled(!r.enabled)
}

// SetParam applies a named gain or switch update. Length changes arrive as
// prepared kernels through swapKernel instead.
func (r *ReverbUnit) SetParam(name string, value float64) bool {
	switch name {
	case ParamMix:
		r.SetMix(value)
	case ParamWet:
		r.SetWet(value)
	case ParamDry:
		r.SetDry(value)
	case ParamEnabled:
		r.SetEnabled(value != 0)
	case ParamToggle:
		r.Toggle()
	default:
		return false
	}
	return true
}

// swapKernel installs a new impulse response. It is called between blocks,
// so every block is convolved with exactly one kernel. The new kernel picks up
// the input history of the old one, so the tail of what was already played
// rings on through the new response.
func (r *ReverbUnit) swapKernel(k *reverbKernel) {
	if k == nil || k.conv == nil {
		return
	}
	if r.kernel != nil {
		k.conv.inheritHistory(r.kernel.conv)
	}
	r.kernel = k
}

// Process renders one block: out[ch] = dry*master + conv(wet*master)[ch].
// out must hold one slice per output channel, each len(master) long.
func (r *ReverbUnit) Process(master []float64, out [][]float64) error {
	wet, dry := r.wet, r.dry
	conv := r.kernel.conv

	silent := true
	for i, v := range master {
		w := v * wet
		r.wetIn[i] = w
		if w != 0 {
			silent = false
		}
	}

	if silent && conv.Idle() {
		r.processDry(master, out)
		return nil
	}

	if err := conv.ProcessBlock(r.wetIn, r.out); err != nil {
		return err
	}
	for ch := range out {
		rev := r.out[min(ch, len(r.out)-1)]
		for i, v := range master {
			out[ch][i] = v*dry + rev[i]
		}
	}
	return nil
}

// processDry writes the dry path alone to every output channel
func (r *ReverbUnit) processDry(master []float64, out [][]float64) {
	for ch := range out {
		for i, v := range master {
			out[ch][i] = v * r.dry
		}
	}
}
