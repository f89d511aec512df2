// Command phisynth drives the phase-distortion engine live or renders it to
// a WAV file.
//
// Usage:
//
//	phisynth -backend wav -out out.wav -duration 5 -play 0,1,2
//	phisynth -backend oto -play 0             # then type control lines on stdin
//	phisynth -backend jack -ir hall.wav       # needs a build with -tags jack
//	phisynth -backend wav -script patch.txt -out patch.wav
//
// Control lines look like "voice 0 frequency=220", "reverb toggle" or
// "effect granular mix=0.5".
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"gophisynth"
)

const (
	backendOto  = "oto"
	backendJack = "jack"
	backendWAV  = "wav"
)

// player is the part of the live backends the CLI needs
type player interface {
	Start() error
	Stop() error
	Close() error
}

func main() {
	backend := flag.String("backend", backendOto, "Output backend: oto, jack or wav")
	output := flag.String("out", "phisynth.wav", "Output WAV file for -backend wav")
	duration := flag.Float64("duration", 5, "Seconds to render for -backend wav")
	sampleRate := flag.Int("sr", gophisynth.DefaultSampleRate, "Sample rate in Hz (ignored for jack)")
	blockSize := flag.Int("block", gophisynth.DefaultBlockSize, "Block size in frames (ignored for jack)")
	channels := flag.Int("channels", gophisynth.DefaultChannels, "Output channels: 1 or 2")
	voices := flag.Int("voices", gophisynth.DefaultVoices, "Number of voices")
	seed := flag.Int64("seed", 1, "Seed for impulse noise and grain jitter")
	reverbLength := flag.Float64("reverb-length", gophisynth.DefaultReverbLength, "Synthesized reverb length in seconds")
	noReverb := flag.Bool("no-reverb", false, "Start with the reverb switched off")
	irPath := flag.String("ir", "", "Impulse response file (.wav or .flac) instead of the synthesized one")
	effects := flag.String("effects", "granular,pitchshift", "Comma separated effect chain, empty for none")
	continuous := flag.Bool("continuous", false, "Run the harmonic falloff index across blocks")
	script := flag.String("script", "", "Control script applied before rendering")
	playVoices := flag.String("play", "", "Comma separated voice ids to start, e.g. 0,1,2")
	flag.Parse()

	cfg := gophisynth.DefaultConfig()
	cfg.SampleRate = *sampleRate
	cfg.BlockSize = *blockSize
	cfg.Channels = *channels
	cfg.Voices = *voices
	cfg.Seed = *seed
	cfg.ReverbLength = *reverbLength
	cfg.ReverbEnabled = !*noReverb
	cfg.ContinuousEnvelope = *continuous
	cfg.Effects = splitList(*effects)
	cfg.Diagnostics = gophisynth.DiagnosticsFunc(func(ev gophisynth.Event) {
		log.Printf("diagnostic: %s %s %s: %v", ev.Kind, ev.Target, ev.Name, ev.Err)
	})

	var engine *gophisynth.Engine
	var live player

	switch *backend {
	case backendJack:
		jc, err := gophisynth.NewJackClient(cfg, "phisynth")
		if err != nil {
			log.Fatalf("JACK setup failed: %v", err)
		}
		engine, live = jc.Engine(), jc
	case backendOto, backendWAV:
		var err error
		engine, err = gophisynth.NewEngine(cfg)
		if err != nil {
			log.Fatalf("Engine setup failed: %v", err)
		}
		if *backend == backendOto {
			op, err := gophisynth.NewOtoPlayer(engine)
			if err != nil {
				log.Fatalf("Audio setup failed: %v", err)
			}
			live = op
		}
	default:
		log.Fatalf("Unknown backend %q (want oto, jack or wav)", *backend)
	}

	if err := configure(engine, *irPath, *script, *playVoices); err != nil {
		log.Fatalf("%v", err)
	}

	if live == nil {
		if err := gophisynth.RenderWAVFile(engine, *output, *duration); err != nil {
			log.Fatalf("Render failed: %v", err)
		}
		printStats(engine, *output)
		return
	}

	runLive(engine, live)
}

// configure applies the impulse response, the control script and the
// initial voices.
func configure(engine *gophisynth.Engine, irPath, script, playVoices string) error {
	if irPath != "" {
		if err := engine.LoadImpulseResponseFile(irPath); err != nil {
			return fmt.Errorf("impulse response: %w", err)
		}
	}

	if script != "" {
		file, err := os.Open(script)
		if err != nil {
			return fmt.Errorf("failed to open control script: %w", err)
		}
		cmds, err := gophisynth.ParseControlScript(file)
		file.Close()
		if err != nil {
			return fmt.Errorf("control script %s: %w", script, err)
		}
		for _, cmd := range cmds {
			if err := engine.Apply(cmd); err != nil {
				return fmt.Errorf("control script %s: %w", script, err)
			}
		}
	}

	for _, s := range splitList(playVoices) {
		id, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid voice id %q", s)
		}
		if err := engine.StartVoice(id); err != nil {
			return err
		}
	}
	return nil
}

// runLive plays until stdin closes or the process is interrupted, applying
// every stdin line as a control command.
func runLive(engine *gophisynth.Engine, live player) {
	if err := live.Start(); err != nil {
		log.Fatalf("Start failed: %v", err)
	}
	defer live.Close()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	fmt.Println("Playing. Type control lines, Ctrl-D or Ctrl-C to quit.")
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				live.Stop()
				return
			}
			if err := engine.Exec(line); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
		case <-sig:
			live.Stop()
			return
		}
	}
}

func printStats(engine *gophisynth.Engine, outputPath string) {
	stats := engine.Stats()
	fmt.Printf("Rendered: %s\n", outputPath)
	fmt.Printf("  Sample rate: %d Hz, %d channels\n", engine.SampleRate(), engine.Channels())
	fmt.Printf("  Blocks: %d of %d frames\n", stats.Blocks, engine.BlockSize())
	fmt.Printf("  Effects: %s\n", strings.Join(engine.Effects(), ", "))
	if stats.Overflows > 0 || stats.DroppedUpdates > 0 {
		fmt.Printf("  Updates lost: %d overflowed, %d dropped\n", stats.Overflows, stats.DroppedUpdates)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
