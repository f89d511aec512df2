//go:build jack
// +build jack

package gophisynth

import (
	"fmt"

	"github.com/GeoffreyPlitt/debuggo"
	"github.com/xthexder/go-jack"
)

var jackDebug = debuggo.Debug("phisynth:jack")

// JackClient runs an Engine inside a JACK process callback. The engine is
// built at the JACK server's sample rate with the JACK buffer size as its
// block size.
type JackClient struct {
	client     *jack.Client
	engine     *Engine
	stream     *Stream
	outPorts   []*jack.Port
	sampleRate uint32
	bufferSize uint32

	// preallocated render buffers
	scratch [][]float32
	view    [][]float32
}

// NewJackClient opens a JACK client and builds an engine from cfg with the
// sample rate and block size taken from the server.
func NewJackClient(cfg Config, clientName string) (*JackClient, error) {
	jackDebug("Creating JACK client: %s", clientName)

	client, status := jack.ClientOpen(clientName, jack.NoStartServer)
	if status != 0 || client == nil {
		return nil, fmt.Errorf("failed to open JACK client: %w", jack.StrError(status))
	}

	sampleRate := uint32(client.GetSampleRate())
	bufferSize := uint32(client.GetBufferSize())
	cfg.SampleRate = int(sampleRate)
	cfg.BlockSize = int(bufferSize)

	engine, err := NewEngine(cfg)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create engine for JACK: %w", err)
	}

	jc := &JackClient{
		client:     client,
		engine:     engine,
		stream:     NewStream(engine),
		sampleRate: sampleRate,
		bufferSize: bufferSize,
		scratch:    make([][]float32, engine.Channels()),
		view:       make([][]float32, engine.Channels()),
	}
	for ch := range jc.scratch {
		jc.scratch[ch] = make([]float32, bufferSize)
	}

	names := []string{"out_left", "out_right"}
	if engine.Channels() == 1 {
		names = []string{"out"}
	}
	for _, name := range names {
		port := client.PortRegister(name, jack.DEFAULT_AUDIO_TYPE, jack.PortIsOutput, 0)
		if port == nil {
			client.Close()
			return nil, fmt.Errorf("failed to register audio output port %s", name)
		}
		jc.outPorts = append(jc.outPorts, port)
	}

	if code := client.SetProcessCallback(jc.processCallback); code != 0 {
		client.Close()
		return nil, fmt.Errorf("failed to set JACK process callback: %w", jack.StrError(code))
	}

	jackDebug("JACK client created successfully (sample rate: %d Hz, buffer size: %d)",
		jc.sampleRate, jc.bufferSize)

	return jc, nil
}

// Engine returns the engine driven by this client
func (jc *JackClient) Engine() *Engine {
	return jc.engine
}

// Start activates the JACK client and begins audio processing
func (jc *JackClient) Start() error {
	jackDebug("Starting JACK client")

	if code := jc.client.Activate(); code != 0 {
		return fmt.Errorf("failed to activate JACK client: %w", jack.StrError(code))
	}

	jackDebug("JACK client activated successfully")
	return nil
}

// Stop deactivates the JACK client
func (jc *JackClient) Stop() error {
	jackDebug("Stopping JACK client")

	if code := jc.client.Deactivate(); code != 0 {
		return fmt.Errorf("failed to deactivate JACK client: %w", jack.StrError(code))
	}

	jackDebug("JACK client deactivated")
	return nil
}

// Close closes the JACK client connection
func (jc *JackClient) Close() error {
	jackDebug("Closing JACK client")

	if code := jc.client.Close(); code != 0 {
		return fmt.Errorf("failed to close JACK client: %w", jack.StrError(code))
	}

	jackDebug("JACK client closed")
	return nil
}

// processCallback is called by JACK for each audio buffer
func (jc *JackClient) processCallback(nframes uint32) int {
	if int(nframes) > len(jc.scratch[0]) {
		// buffer grew beyond the engine block; stay silent rather than allocate
		for _, port := range jc.outPorts {
			clear(port.GetBuffer(nframes))
		}
		return 0
	}

	for ch := range jc.view {
		jc.view[ch] = jc.scratch[ch][:nframes]
	}
	if err := jc.stream.ReadFrames(jc.view); err != nil {
		return 1
	}

	for ch, port := range jc.outPorts {
		out := port.GetBuffer(nframes)
		for i, v := range jc.view[ch] {
			out[i] = jack.AudioSample(v)
		}
	}
	return 0
}
