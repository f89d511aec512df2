package gophisynth

import (
	"errors"
	"math"
	"sync"
	"testing"
)

// diagRecorder collects diagnostic events for assertions
type diagRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (d *diagRecorder) Report(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
}

// count returns how many events of kind were reported
func (d *diagRecorder) count(kind EventKind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, ev := range d.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// last returns the most recent event, or a zero Event
func (d *diagRecorder) last() Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.events) == 0 {
		return Event{}
	}
	return d.events[len(d.events)-1]
}

// gainUnit multiplies every sample by a fixed gain
type gainUnit struct {
	name    string
	gain    float64
	initted bool
}

func (g *gainUnit) Name() string { return g.name }

func (g *gainUnit) Init(sampleRate float64, channels, blockSize int) error {
	g.initted = true
	return nil
}

func (g *gainUnit) SetParameter(name string, value float64) {
	if name == "gain" {
		g.gain = value
	}
}

func (g *gainUnit) Process(block [][]float64) {
	for _, ch := range block {
		for i := range ch {
			ch[i] *= g.gain
		}
	}
}

// failingUnit always fails Init
type failingUnit struct{}

func (failingUnit) Name() string { return "failing" }

func (failingUnit) Init(sampleRate float64, channels, blockSize int) error {
	return errors.New("device unavailable")
}

func (failingUnit) SetParameter(name string, value float64) {}

func (failingUnit) Process(block [][]float64) {}

// panickingUnit panics in Init
type panickingUnit struct{ failingUnit }

func (panickingUnit) Init(sampleRate float64, channels, blockSize int) error {
	panic("boom")
}

// testConfig returns a small deterministic config without effects
func testConfig(diag Diagnostics) Config {
	cfg := DefaultConfig()
	cfg.SampleRate = 48000
	cfg.BlockSize = 128
	cfg.ReverbLength = 0.05
	cfg.Effects = nil
	cfg.Diagnostics = diag
	return cfg
}

// createTestEngine builds an engine from cfg or fails the test
func createTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return engine
}

// newBlock allocates a channels x frames buffer
func newBlock(channels, frames int) [][]float64 {
	block := make([][]float64, channels)
	for ch := range block {
		block[ch] = make([]float64, frames)
	}
	return block
}

// renderBlocks renders n blocks and returns them concatenated per channel
func renderBlocks(t *testing.T, e *Engine, n int) [][]float64 {
	t.Helper()
	out := newBlock(e.Channels(), 0)
	block := newBlock(e.Channels(), e.BlockSize())
	for b := 0; b < n; b++ {
		if err := e.RenderBlock(block); err != nil {
			t.Fatalf("RenderBlock failed: %v", err)
		}
		for ch := range block {
			out[ch] = append(out[ch], block[ch]...)
		}
	}
	return out
}

// referenceSample evaluates the synthesis formula directly for accumulated
// phase phi and envelope index i.
func referenceSample(phi, d, h float64, k int, i int) float64 {
	distorted := phi + math.Sin(phi*d)*d
	falloff := math.Pow(GoldenRatio, math.Mod(-float64(i), 5*h+1))
	return math.Sin(distorted*math.Pow(GoldenRatio, float64(k))) * falloff
}

// maxAbsDiff returns the largest sample difference between a and b
func maxAbsDiff(a, b []float64) float64 {
	worst := 0.0
	for i := range a {
		worst = math.Max(worst, math.Abs(a[i]-b[i]))
	}
	return worst
}

// peak returns the largest absolute sample
func peak(samples []float64) float64 {
	p := 0.0
	for _, v := range samples {
		p = math.Max(p, math.Abs(v))
	}
	return p
}
