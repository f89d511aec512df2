package gophisynth

import (
	"errors"
	"math"
	"math/rand"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
)

func TestNewEngineInvalidConfig(t *testing.T) {
	mutations := map[string]func(*Config){
		"sample rate": func(c *Config) { c.SampleRate = 0 },
		"block size":  func(c *Config) { c.BlockSize = -1 },
		"channels":    func(c *Config) { c.Channels = 3 },
		"voices":      func(c *Config) { c.Voices = 0 },
		"on level":    func(c *Config) { c.ReverbOnLevel = 1.5 },
	}
	for name, mutate := range mutations {
		cfg := DefaultConfig()
		mutate(&cfg)
		if _, err := NewEngine(cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%s: expected ErrInvalidConfig, got %v", name, err)
		}
	}
}

func TestNewEngineDefaults(t *testing.T) {
	engine := createTestEngine(t, DefaultConfig())

	if engine.SampleRate() != 48000 || engine.BlockSize() != 256 || engine.Channels() != 2 || engine.Voices() != 3 {
		t.Errorf("Unexpected engine format: %d Hz, block %d, %d channels, %d voices",
			engine.SampleRate(), engine.BlockSize(), engine.Channels(), engine.Voices())
	}
	if !reflect.DeepEqual(engine.Effects(), []string{"granular", "pitchshift"}) {
		t.Errorf("Expected granular then pitchshift, got %v", engine.Effects())
	}

	snap := engine.Snapshot()
	if len(snap.Voices) != 3 {
		t.Fatalf("Expected 3 voices in the initial snapshot, got %d", len(snap.Voices))
	}
	if snap.Reverb.Wet != 0.5 || snap.Reverb.Dry != 0.5 || !snap.Reverb.Enabled {
		t.Errorf("Unexpected initial reverb state: %+v", snap.Reverb)
	}
	if math.Abs(snap.Reverb.LengthSeconds-2) > 1e-9 {
		t.Errorf("Expected 2s reverb, got %f", snap.Reverb.LengthSeconds)
	}
}

// Three voices at gain 0.2 with a fully dry reverb sum exactly.
func TestEngineOutputIsSumOfVoices(t *testing.T) {
	freqs := []float64{220, 330, 440}

	setup := func(t *testing.T, running ...int) *Engine {
		cfg := DefaultConfig()
		cfg.BlockSize = 128
		cfg.ReverbLength = 0.1
		engine := createTestEngine(t, cfg)
		if err := engine.SetReverbMix(0); err != nil {
			t.Fatalf("SetReverbMix failed: %v", err)
		}
		for id, f := range freqs {
			engine.SetVoiceParam(id, ParamFrequency, f)
			engine.SetVoiceParam(id, ParamGain, 0.2)
		}
		for _, id := range running {
			if err := engine.StartVoice(id); err != nil {
				t.Fatalf("StartVoice(%d) failed: %v", id, err)
			}
		}
		return engine
	}

	all := renderBlocks(t, setup(t, 0, 1, 2), 8)

	sum := newBlock(2, len(all[0]))
	for id := range freqs {
		single := renderBlocks(t, setup(t, id), 8)
		for ch := range sum {
			for i, v := range single[ch] {
				sum[ch][i] += v
			}
		}
	}

	for ch := range all {
		if diff := maxAbsDiff(all[ch], sum[ch]); diff > 1e-12 {
			t.Errorf("Channel %d: mixed output differs from the sum of single voices by %e", ch, diff)
		}
	}
	if peak(all[0]) == 0 {
		t.Error("Expected non-silent output")
	}
}

func TestEngineOutputMatchesStandaloneVoices(t *testing.T) {
	freqs := []float64{220, 330, 440}
	const blocks, bs = 8, 128

	cfg := DefaultConfig()
	cfg.BlockSize = bs
	cfg.ReverbLength = 0.1
	engine := createTestEngine(t, cfg)
	engine.SetReverbWet(0)
	engine.SetReverbDry(1)
	for id, f := range freqs {
		engine.SetVoiceParam(id, ParamFrequency, f)
		engine.SetVoiceParam(id, ParamGain, 0.2)
		engine.StartVoice(id)
	}
	got := renderBlocks(t, engine, blocks)

	// oscillator, low-pass and gain rebuilt outside the engine
	want := make([]float64, blocks*bs)
	buf := make([]float64, bs)
	for _, f := range freqs {
		v := NewVoice(0, float64(cfg.SampleRate))
		v.SetParam(ParamFrequency, f)
		v.Start()
		filter := NewFilterStage(float64(cfg.SampleRate))
		for b := 0; b < blocks; b++ {
			v.Render(buf, false)
			filter.ProcessBlock(buf)
			for i, x := range buf {
				want[b*bs+i] += 0.2 * x
			}
		}
	}

	for ch := range got {
		if diff := maxAbsDiff(got[ch], want); diff > 1e-12 {
			t.Errorf("Channel %d: engine output differs from standalone voices by %e", ch, diff)
		}
	}
	if peak(want) == 0 {
		t.Error("Expected non-silent reference")
	}
}

func TestEngineToggleReverb(t *testing.T) {
	engine := createTestEngine(t, testConfig(nil))
	block := newBlock(2, engine.BlockSize())

	engine.ToggleReverb()
	engine.RenderBlock(block)
	if snap := engine.Snapshot(); snap.Reverb.Enabled || snap.Reverb.Wet != 0 {
		t.Errorf("Expected reverb off with wet 0, got %+v", snap.Reverb)
	}

	engine.ToggleReverb()
	engine.RenderBlock(block)
	if snap := engine.Snapshot(); !snap.Reverb.Enabled || snap.Reverb.Wet != 0.5 {
		t.Errorf("Expected reverb on with wet exactly 0.5, got %+v", snap.Reverb)
	}

	engine.SetReverbEnabled(false)
	engine.SetReverbEnabled(true)
	engine.RenderBlock(block)
	if snap := engine.Snapshot(); snap.Reverb.Wet != 0.5 || snap.Reverb.Dry != 0.5 {
		t.Errorf("Expected wet 0.5 and untouched dry 0.5, got %+v", snap.Reverb)
	}
}

func TestEngineSnapshotRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BlockSize = 64
	cfg.ReverbLength = 0.05
	engine := createTestEngine(t, cfg)

	engine.StartVoice(1)
	engine.SetVoiceParam(1, ParamFrequency, 330)
	engine.SetVoiceParam(1, ParamPhaseDistortion, 1.25)
	engine.SetVoiceParam(1, ParamHarmonicIntensity, 0.75)
	engine.SetVoiceParam(1, ParamFractalDepth, 5)
	engine.SetVoiceParam(1, ParamGain, 0.4)
	engine.SetFilterParam(1, ParamCutoff, 1200)
	engine.SetFilterParam(1, ParamQ, 2.5)
	engine.SetReverbWet(0.3)
	engine.SetReverbDry(0.9)
	engine.SetEffectParam(GranularEffectName, ParamGrainSize, 0.1)
	engine.SetEffectParam(PitchShiftEffectName, ParamPitchShiftAmount, -7)

	before := engine.Snapshot()
	if before.Voices[1].Running {
		t.Error("Updates must not be visible before a block is rendered")
	}

	renderBlocks(t, engine, 1)
	snap := engine.Snapshot()

	if snap.Blocks != 1 {
		t.Errorf("Expected snapshot from block 1, got %d", snap.Blocks)
	}
	v, ok := snap.Voice(1)
	if !ok {
		t.Fatal("Voice 1 missing from snapshot")
	}
	want := VoiceState{
		ID:      1,
		Running: true,
		Params:  VoiceParams{Frequency: 330, PhaseDistortion: 1.25, HarmonicIntensity: 0.75, FractalDepth: 5},
		Gain:    0.4,
		Cutoff:  1200,
		Q:       2.5,
	}
	if v != want {
		t.Errorf("Voice state %+v, want %+v", v, want)
	}
	if other, _ := snap.Voice(0); other.Running {
		t.Error("Voice 0 should still be stopped")
	}

	if snap.Reverb.Wet != 0.3 || snap.Reverb.Dry != 0.9 || !snap.Reverb.Enabled {
		t.Errorf("Unexpected reverb state: %+v", snap.Reverb)
	}

	g, ok := snap.Effect(GranularEffectName)
	if !ok || g.Params[ParamGrainSize] != 0.1 {
		t.Errorf("Expected granular grainSize 0.1 in snapshot, got %+v", g)
	}
	p, ok := snap.Effect(PitchShiftEffectName)
	if !ok || p.Params[ParamPitchShiftAmount] != -7 {
		t.Errorf("Expected pitchshift amount -7 in snapshot, got %+v", p)
	}

	// snapshots are independent copies
	snap.Voices[1].Gain = 0
	snap.Effects[0].Params[ParamGrainSize] = 0
	again := engine.Snapshot()
	if again.Voices[1].Gain != 0.4 || again.Effects[0].Params[ParamGrainSize] != 0.1 {
		t.Error("Modifying a snapshot must not affect the engine")
	}
}

func TestEngineStartStopBeforeRender(t *testing.T) {
	engine := createTestEngine(t, testConfig(nil))
	engine.StartVoice(0)
	engine.StopVoice(0)

	out := renderBlocks(t, engine, 4)
	for ch := range out {
		if p := peak(out[ch]); p != 0 {
			t.Errorf("Channel %d: expected silence after start+stop, got peak %e", ch, p)
		}
	}
	if engine.Snapshot().Voices[0].Running {
		t.Error("Voice should be stopped")
	}
}

func TestEngineStopRingsOut(t *testing.T) {
	cfg := testConfig(nil)
	engine := createTestEngine(t, cfg)
	engine.SetReverbMix(0)
	engine.StartVoice(0)
	renderBlocks(t, engine, 2)

	engine.StopVoice(0)
	tail := renderBlocks(t, engine, 1)
	if peak(tail[0]) == 0 {
		t.Error("Expected the filter to ring out in the block after stop")
	}

	silent := renderBlocks(t, engine, 400)
	last := silent[0][len(silent[0])-cfg.BlockSize:]
	if p := peak(last); p != 0 {
		t.Errorf("Expected silence once the filter decayed, got peak %e", p)
	}
}

func TestEngineRejectsInvalidUpdates(t *testing.T) {
	diag := &diagRecorder{}
	engine := createTestEngine(t, testConfig(diag))

	if err := engine.StartVoice(3); !errors.Is(err, ErrUnknownTarget) {
		t.Errorf("Expected ErrUnknownTarget for voice 3, got %v", err)
	}
	if err := engine.SetFilterParam(-1, ParamCutoff, 100); !errors.Is(err, ErrUnknownTarget) {
		t.Errorf("Expected ErrUnknownTarget for filter -1, got %v", err)
	}
	if err := engine.SetParameter("master", ParamGain, 1); !errors.Is(err, ErrUnknownTarget) {
		t.Errorf("Expected ErrUnknownTarget for target master, got %v", err)
	}
	if err := engine.SetEffectParam("chorus", "depth", 1); !errors.Is(err, ErrUnknownTarget) {
		t.Errorf("Expected ErrUnknownTarget for an inactive effect, got %v", err)
	}
	if n := diag.count(UnknownTarget); n != 4 {
		t.Errorf("Expected 4 UnknownTarget events, got %d", n)
	}
	if ev := diag.last(); ev.Target != "effect:chorus" || ev.Name != "depth" {
		t.Errorf("Unexpected event fields: %+v", ev)
	}

	if err := engine.SetVoiceParam(0, "detune", 1); !errors.Is(err, ErrUnknownParameter) {
		t.Errorf("Expected ErrUnknownParameter, got %v", err)
	}
	if err := engine.SetParameter("reverb", "size", 1); !errors.Is(err, ErrUnknownParameter) {
		t.Errorf("Expected ErrUnknownParameter for reverb size, got %v", err)
	}
	if n := diag.count(UnknownParameter); n != 2 {
		t.Errorf("Expected 2 UnknownParameter events, got %d", n)
	}

	if err := engine.SetVoiceParam(0, ParamFrequency, math.NaN()); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("Expected ErrInvalidValue for NaN, got %v", err)
	}
	if n := diag.count(InvalidValue); n != 1 {
		t.Errorf("Expected 1 InvalidValue event, got %d", n)
	}

	if pending := engine.Stats().PendingUpdates; pending != 0 {
		t.Errorf("Rejected updates must not be queued, got %d pending", pending)
	}
}

func TestEngineSetParameterRouting(t *testing.T) {
	cfg := testConfig(nil)
	cfg.Effects = []string{GranularEffectName}
	engine := createTestEngine(t, cfg)

	calls := []struct {
		target, name string
		value        float64
	}{
		{"2", ParamFrequency, 110},
		{"voice:2", "running", 1},
		{"filter:2", "resonance", 3},
		{"reverb", ParamMix, 0.25},
		{"effect:granular", ParamGrainDensity, 50},
	}
	for _, c := range calls {
		if err := engine.SetParameter(c.target, c.name, c.value); err != nil {
			t.Fatalf("SetParameter(%q, %q) failed: %v", c.target, c.name, err)
		}
	}
	renderBlocks(t, engine, 1)

	snap := engine.Snapshot()
	v := snap.Voices[2]
	if v.Params.Frequency != 110 || !v.Running || v.Q != 3 {
		t.Errorf("Unexpected voice 2 state: %+v", v)
	}
	if snap.Reverb.Wet != 0.25 || snap.Reverb.Dry != 0.75 {
		t.Errorf("Unexpected reverb state: %+v", snap.Reverb)
	}
	if g, _ := snap.Effect(GranularEffectName); g.Params[ParamGrainDensity] != 50 {
		t.Errorf("Unexpected granular state: %+v", g)
	}
}

func TestEngineQueueOverflow(t *testing.T) {
	diag := &diagRecorder{}
	cfg := testConfig(diag)
	cfg.QueueSize = 2
	engine := createTestEngine(t, cfg)

	engine.SetVoiceParam(0, ParamGain, 0.1)
	engine.SetVoiceParam(0, ParamGain, 0.2)
	if err := engine.SetVoiceParam(0, ParamGain, 0.3); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}
	if n := diag.count(QueueOverflow); n != 1 {
		t.Errorf("Expected 1 QueueOverflow event, got %d", n)
	}

	stats := engine.Stats()
	if stats.Overflows != 1 || stats.PendingUpdates != 2 || stats.QueueCapacity != 2 {
		t.Errorf("Unexpected stats: %+v", stats)
	}

	renderBlocks(t, engine, 1)
	if g := engine.Snapshot().Voices[0].Gain; g != 0.2 {
		t.Errorf("Expected the last accepted gain 0.2, got %f", g)
	}
	if err := engine.SetVoiceParam(0, ParamGain, 0.3); err != nil {
		t.Errorf("Expected room in the queue after a block, got %v", err)
	}
}

func TestEngineEffectInitFailure(t *testing.T) {
	diag := &diagRecorder{}
	registry := DefaultEffectRegistry()
	registry.Register("failing", func() (EffectUnit, error) { return failingUnit{}, nil })

	cfg := testConfig(diag)
	cfg.Registry = registry
	cfg.Effects = []string{"failing", PitchShiftEffectName}
	engine := createTestEngine(t, cfg)

	if !reflect.DeepEqual(engine.Effects(), []string{PitchShiftEffectName}) {
		t.Errorf("Expected only pitchshift to be active, got %v", engine.Effects())
	}
	if n := diag.count(EffectInitFailed); n != 1 {
		t.Errorf("Expected 1 EffectInitFailed event, got %d", n)
	}
	if err := engine.SetEffectParam("failing", "mix", 1); !errors.Is(err, ErrUnknownTarget) {
		t.Errorf("Expected ErrUnknownTarget for the failed unit, got %v", err)
	}

	engine.StartVoice(0)
	out := renderBlocks(t, engine, 4)
	if peak(out[0]) == 0 {
		t.Error("Expected audio to keep flowing past the failed unit")
	}
}

func TestEngineImpulseSwapKeepsHistory(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	newIR := &ImpulseResponse{Channels: make([][]float64, 2), SampleRate: 48000}
	for ch := range newIR.Channels {
		newIR.Channels[ch] = make([]float64, 100)
		for i := range newIR.Channels[ch] {
			newIR.Channels[ch][i] = rng.Float64()*2 - 1
		}
	}

	setup := func(wet float64) *Engine {
		cfg := testConfig(nil)
		cfg.NormalizeIR = false
		engine := createTestEngine(t, cfg)
		engine.SetReverbMix(wet)
		engine.StartVoice(0)
		return engine
	}

	wet := setup(1)
	renderBlocks(t, wet, 3)
	if err := wet.LoadImpulseResponse(newIR); err != nil {
		t.Fatalf("LoadImpulseResponse failed: %v", err)
	}
	got := renderBlocks(t, wet, 1)

	// the dry engine exposes the master bus up to the same block
	dry := setup(0)
	master := renderBlocks(t, dry, 4)[0]
	bs := dry.BlockSize()

	for ch := range got {
		// the new kernel also convolves the samples played before the swap
		want := directConvolve(master, newIR.Channels[ch])[3*bs:]
		if diff := maxAbsDiff(got[ch], want); diff > 1e-9 {
			t.Errorf("Channel %d: first block after the swap differs from the new kernel by %e", ch, diff)
		}

		cut := directConvolve(master[3*bs:], newIR.Channels[ch])
		if diff := maxAbsDiff(got[ch], cut); diff < 1e-6 {
			t.Errorf("Channel %d: expected the block to carry the pre-swap tail", ch)
		}
	}

	if l := wet.Snapshot().Reverb.LengthSeconds; math.Abs(l-100.0/48000) > 1e-12 {
		t.Errorf("Expected reverb length %f, got %f", 100.0/48000, l)
	}
}

func TestEngineImpulseLoadFailureKeepsKernel(t *testing.T) {
	diag := &diagRecorder{}
	engine := createTestEngine(t, testConfig(diag))
	before := engine.Snapshot().Reverb.LengthSeconds

	bad := &ImpulseResponse{Channels: [][]float64{{math.NaN()}}, SampleRate: 48000}
	if err := engine.LoadImpulseResponse(bad); !errors.Is(err, ErrInvalidImpulse) {
		t.Errorf("Expected ErrInvalidImpulse, got %v", err)
	}
	if err := engine.LoadImpulseResponseFile(filepath.Join(t.TempDir(), "none.wav")); err == nil {
		t.Error("Expected error for a missing impulse response file")
	}
	if n := diag.count(ImpulseLoadFailed); n != 2 {
		t.Errorf("Expected 2 ImpulseLoadFailed events, got %d", n)
	}

	renderBlocks(t, engine, 1)
	if after := engine.Snapshot().Reverb.LengthSeconds; after != before {
		t.Errorf("Expected the previous kernel (%fs) to stay, got %fs", before, after)
	}
}

func TestEngineSetReverbLength(t *testing.T) {
	engine := createTestEngine(t, testConfig(nil))

	engine.SetReverbLength(0.25)
	renderBlocks(t, engine, 1)
	if l := engine.Snapshot().Reverb.LengthSeconds; math.Abs(l-0.25) > 1e-9 {
		t.Errorf("Expected 0.25s reverb, got %f", l)
	}

	engine.SetReverbLength(100)
	renderBlocks(t, engine, 1)
	if l := engine.Snapshot().Reverb.LengthSeconds; math.Abs(l-10) > 1e-9 {
		t.Errorf("Expected reverb length clamped to 10s, got %f", l)
	}
}

func TestEngineLoadImpulseResponseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ir.wav")
	writeTestWAV(t, path, 24000, 1, []int{32767, 16384, 0, -16384})

	engine := createTestEngine(t, testConfig(nil))
	if err := engine.LoadImpulseResponseFile(path); err != nil {
		t.Fatalf("LoadImpulseResponseFile failed: %v", err)
	}
	renderBlocks(t, engine, 1)

	// 4 frames at 24kHz resample to 8 frames at 48kHz
	if l := engine.Snapshot().Reverb.LengthSeconds; math.Abs(l-8.0/48000) > 1e-12 {
		t.Errorf("Expected %f seconds, got %f", 8.0/48000, l)
	}
}

func TestEngineRenderShape(t *testing.T) {
	engine := createTestEngine(t, testConfig(nil))

	if err := engine.RenderBlock(newBlock(1, engine.BlockSize())); !errors.Is(err, ErrBlockShape) {
		t.Errorf("Expected ErrBlockShape for one channel, got %v", err)
	}
	if err := engine.RenderBlock(newBlock(2, 10)); !errors.Is(err, ErrBlockShape) {
		t.Errorf("Expected ErrBlockShape for a short block, got %v", err)
	}
	if err := engine.RenderInterleaved(make([]float32, 10)); !errors.Is(err, ErrBlockShape) {
		t.Errorf("Expected ErrBlockShape for a short interleaved block, got %v", err)
	}
	if err := engine.Render([][]float32{make([]float32, 3), make([]float32, 3)}); !errors.Is(err, ErrBlockShape) {
		t.Errorf("Expected ErrBlockShape for short float32 buffers, got %v", err)
	}
	if engine.Stats().Blocks != 0 {
		t.Error("Rejected render calls must not count as blocks")
	}
}

func TestEngineRenderFormatsAgree(t *testing.T) {
	engines := make([]*Engine, 3)
	for i := range engines {
		engines[i] = createTestEngine(t, testConfig(nil))
		engines[i].StartVoice(0)
		engines[i].StartVoice(2)
	}
	n := engines[0].BlockSize()

	planar := newBlock(2, n)
	f32 := [][]float32{make([]float32, n), make([]float32, n)}
	inter := make([]float32, 2*n)

	for b := 0; b < 5; b++ {
		if err := engines[0].RenderBlock(planar); err != nil {
			t.Fatalf("RenderBlock failed: %v", err)
		}
		if err := engines[1].Render(f32); err != nil {
			t.Fatalf("Render failed: %v", err)
		}
		if err := engines[2].RenderInterleaved(inter); err != nil {
			t.Fatalf("RenderInterleaved failed: %v", err)
		}
		for ch := 0; ch < 2; ch++ {
			for i := 0; i < n; i++ {
				want := float32(planar[ch][i])
				if f32[ch][i] != want || inter[i*2+ch] != want {
					t.Fatalf("Block %d channel %d sample %d: %v / %v / %v", b, ch, i, want, f32[ch][i], inter[i*2+ch])
				}
			}
		}
	}
}

func TestEngineConcurrentControl(t *testing.T) {
	engine := createTestEngine(t, testConfig(DiagnosticsFunc(func(Event) {})))
	engine.StartVoice(0)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; ; i++ {
				select {
				case <-stop:
					return
				default:
				}
				engine.SetVoiceParam(g%3, ParamFrequency, float64(100+i%500))
				engine.SetFilterParam(g%3, ParamCutoff, float64(500+i%1000))
				engine.SetReverbMix(float64(i%10) / 10)
				_ = engine.Snapshot()
				_ = engine.Stats()
			}
		}(g)
	}

	block := newBlock(2, engine.BlockSize())
	for b := 0; b < 200; b++ {
		if err := engine.RenderBlock(block); err != nil {
			t.Fatalf("RenderBlock failed: %v", err)
		}
		for _, v := range block[0] {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("Block %d: non-finite sample", b)
			}
		}
	}
	close(stop)
	wg.Wait()

	if engine.Stats().Blocks != 200 {
		t.Errorf("Expected 200 blocks, got %d", engine.Stats().Blocks)
	}
}
