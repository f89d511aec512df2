package gophisynth

// Bus is the master mix: every audible voice, after its filter, scaled by
// its gain and summed into one mono signal. There is no clipping or limiting.
type Bus struct {
	master     []float64
	voiceBuf   []float64
	continuous bool
}

func newBus(blockSize int, continuous bool) *Bus {
	return &Bus{
		master:     make([]float64, blockSize),
		voiceBuf:   make([]float64, blockSize),
		continuous: continuous,
	}
}

// audible reports whether v contributes to the current block: it is running,
// or it was stopped and its filter is still ringing out.
func audible(v *Voice) bool {
	return v.running || !v.filter.Idle()
}

// Mix renders one block of every audible voice and returns the summed master
// signal. The returned slice is reused by the next call.
func (b *Bus) Mix(voices []*Voice) []float64 {
	clear(b.master)
	for _, v := range voices {
		if !audible(v) {
			continue
		}
		v.Render(b.voiceBuf, b.continuous)
		v.filter.ProcessBlock(b.voiceBuf)
		g := v.gain
		for i, x := range b.voiceBuf {
			b.master[i] += g * x
		}
	}
	return b.master
}
