package gophisynth

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/GeoffreyPlitt/debuggo"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var wavDebug = debuggo.Debug("phisynth:wav")

const (
	wavBitDepth    = 16
	wavFormatPCM   = 1
	wavChunkFrames = 4096
)

// RenderWAV renders frames of engine output as 16-bit PCM WAV into w. It
// drives the engine's render context, so nothing else may render meanwhile.
// Samples outside [-1, 1] are clipped.
func RenderWAV(e *Engine, w io.WriteSeeker, frames int) error {
	if frames < 0 {
		return fmt.Errorf("frame count must be non-negative, got %d", frames)
	}

	channels := e.Channels()
	encoder := wav.NewEncoder(w, e.SampleRate(), wavBitDepth, channels, wavFormatPCM)

	stream := NewStream(e)
	chunk := make([]float32, wavChunkFrames*channels)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: e.SampleRate()},
		Data:           make([]int, len(chunk)),
		SourceBitDepth: wavBitDepth,
	}

	scale := float64(int(1)<<(wavBitDepth-1) - 1)
	for remaining := frames; remaining > 0; {
		n := min(remaining, wavChunkFrames)
		samples := chunk[:n*channels]
		if err := stream.ReadInterleaved(samples); err != nil {
			return fmt.Errorf("failed to render audio: %w", err)
		}

		buf.Data = buf.Data[:len(samples)]
		for i, v := range samples {
			buf.Data[i] = int(math.Round(clamp(float64(v), -1, 1) * scale))
		}
		if err := encoder.Write(buf); err != nil {
			return fmt.Errorf("failed to write WAV data: %w", err)
		}
		remaining -= n
	}

	e.flushSnapshot()

	if err := encoder.Close(); err != nil {
		return fmt.Errorf("failed to finalize WAV file: %w", err)
	}
	return nil
}

// RenderWAVFile renders seconds of engine output to a WAV file at path
func RenderWAVFile(e *Engine, path string, seconds float64) error {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return fmt.Errorf("duration must be a non-negative number of seconds, got %f", seconds)
	}
	frames := int(math.Round(seconds * float64(e.SampleRate())))

	wavDebug("Rendering %d frames to %s", frames, path)

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create WAV file: %w", err)
	}

	if err := RenderWAV(e, file, frames); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close WAV file: %w", err)
	}

	wavDebug("Finished rendering %s", path)
	return nil
}
