//go:build !headless

package gophisynth

import (
	"fmt"
	"sync"

	"github.com/GeoffreyPlitt/debuggo"
	"github.com/ebitengine/oto/v3"
)

var otoDebug = debuggo.Debug("phisynth:oto")

// OtoPlayer plays an Engine through the system audio device. oto pulls
// float32 samples from a Stream on its own goroutine, which becomes the
// engine's render context.
type OtoPlayer struct {
	ctx     *oto.Context
	player  *oto.Player
	stream  *Stream
	started bool
	mutex   sync.Mutex // setup and control only
}

// NewOtoPlayer opens the default output device at the engine's sample rate
// and channel count.
func NewOtoPlayer(engine *Engine) (*OtoPlayer, error) {
	otoDebug("Opening audio device: %d Hz, %d channels", engine.SampleRate(), engine.Channels())

	op := &oto.NewContextOptions{
		SampleRate:   engine.SampleRate(),
		ChannelCount: engine.Channels(),
		Format:       oto.FormatFloat32LE,
	}

	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio device: %w", err)
	}
	<-ready

	stream := NewStream(engine)
	return &OtoPlayer{
		ctx:    ctx,
		player: ctx.NewPlayer(stream),
		stream: stream,
	}, nil
}

// Start begins playback
func (op *OtoPlayer) Start() error {
	op.mutex.Lock()
	defer op.mutex.Unlock()

	if !op.started && op.player != nil {
		op.player.Play()
		op.started = true
		otoDebug("Playback started")
	}
	return nil
}

// Stop pauses playback
func (op *OtoPlayer) Stop() error {
	op.mutex.Lock()
	defer op.mutex.Unlock()

	if op.started && op.player != nil {
		op.player.Pause()
		op.started = false
		otoDebug("Playback paused")
	}
	return nil
}

// Close stops playback and releases the player
func (op *OtoPlayer) Close() error {
	op.mutex.Lock()
	defer op.mutex.Unlock()

	if op.player == nil {
		return nil
	}
	err := op.player.Close()
	op.player = nil
	op.started = false
	if err != nil {
		return fmt.Errorf("failed to close audio player: %w", err)
	}
	otoDebug("Audio player closed")
	return nil
}

// IsStarted reports whether playback is running
func (op *OtoPlayer) IsStarted() bool {
	op.mutex.Lock()
	defer op.mutex.Unlock()
	return op.started
}
