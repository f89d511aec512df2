package gophisynth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Parameter channel errors
var (
	ErrQueueFull        = errors.New("parameter queue full")
	ErrUnknownTarget    = errors.New("unknown parameter target")
	ErrUnknownParameter = errors.New("unknown parameter")
	ErrInvalidValue     = errors.New("invalid parameter value")
)

// TargetKind says which part of the graph an update addresses
type TargetKind uint8

const (
	TargetVoice TargetKind = iota
	TargetFilter
	TargetReverb
	TargetEffect
)

const (
	voiceTargetPrefix  = "voice:"
	filterTargetPrefix = "filter:"
	effectTargetPrefix = "effect:"
	reverbTargetName   = "reverb"
)

// voice transport pseudo-parameter carried by start/stop updates
const paramRunning = "running"

// Target addresses a voice, a voice's filter, the reverb or an effect unit
type Target struct {
	Kind   TargetKind
	ID     int    // voice id for TargetVoice and TargetFilter
	Effect string // unit name for TargetEffect
}

// VoiceTarget addresses voice id
func VoiceTarget(id int) Target { return Target{Kind: TargetVoice, ID: id} }

// FilterTarget addresses the filter of voice id
func FilterTarget(id int) Target { return Target{Kind: TargetFilter, ID: id} }

// ReverbTarget addresses the reverb unit
func ReverbTarget() Target { return Target{Kind: TargetReverb} }

// EffectTarget addresses an effect unit by name
func EffectTarget(name string) Target { return Target{Kind: TargetEffect, Effect: name} }

// String returns the textual address, e.g. "voice:2" or "effect:granular"
func (t Target) String() string {
	switch t.Kind {
	case TargetVoice:
		return voiceTargetPrefix + strconv.Itoa(t.ID)
	case TargetFilter:
		return filterTargetPrefix + strconv.Itoa(t.ID)
	case TargetReverb:
		return reverbTargetName
	case TargetEffect:
		return effectTargetPrefix + t.Effect
	default:
		return "unknown"
	}
}

// ParseTarget parses "<n>", "voice:<n>", "filter:<n>", "reverb" or
// "effect:<name>". It does not check that the addressed object exists.
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == reverbTargetName:
		return ReverbTarget(), nil
	case strings.HasPrefix(s, effectTargetPrefix):
		name := strings.TrimPrefix(s, effectTargetPrefix)
		if name == "" {
			return Target{}, fmt.Errorf("%w: %q", ErrUnknownTarget, s)
		}
		return EffectTarget(name), nil
	case strings.HasPrefix(s, filterTargetPrefix):
		id, err := strconv.Atoi(strings.TrimPrefix(s, filterTargetPrefix))
		if err != nil {
			return Target{}, fmt.Errorf("%w: %q", ErrUnknownTarget, s)
		}
		return FilterTarget(id), nil
	case strings.HasPrefix(s, voiceTargetPrefix):
		s = strings.TrimPrefix(s, voiceTargetPrefix)
	}

	id, err := strconv.Atoi(s)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %q", ErrUnknownTarget, s)
	}
	return VoiceTarget(id), nil
}

// Update is one parameter change travelling from the control context to the
// render context.
type Update struct {
	Target Target
	Name   string
	Value  float64

	kernel *reverbKernel // prepared impulse response for reverb swaps
}

// ParameterChannel is a bounded lock-free queue of updates with many
// producers (serialized by a mutex only they use) and a single consumer, the
// render context, which never blocks.
type ParameterChannel struct {
	slots []Update
	mask  uint64

	head atomic.Uint64 // next slot to read, owned by the consumer
	tail atomic.Uint64 // next slot to publish, owned by producers

	sendMu sync.Mutex
}

// NewParameterChannel creates a channel holding at least capacity updates
func NewParameterChannel(capacity int) *ParameterChannel {
	size := 1
	for size < capacity {
		size <<= 1
	}
	return &ParameterChannel{
		slots: make([]Update, size),
		mask:  uint64(size - 1),
	}
}

// Cap returns the queue capacity
func (pc *ParameterChannel) Cap() int { return len(pc.slots) }

// Len returns the number of published, undrained updates. It is exact only
// while neither side is running.
func (pc *ParameterChannel) Len() int {
	// head first: a tail read after it can only be newer
	head := pc.head.Load()
	tail := pc.tail.Load()
	if tail < head {
		return 0
	}
	return int(tail - head)
}

// Send enqueues updates as one batch: the consumer sees all of them in the
// same drain or none. If the batch does not fit nothing is enqueued and
// ErrQueueFull is returned.
func (pc *ParameterChannel) Send(updates ...Update) error {
	if len(updates) == 0 {
		return nil
	}

	pc.sendMu.Lock()
	defer pc.sendMu.Unlock()

	tail := pc.tail.Load()
	head := pc.head.Load()
	free := uint64(len(pc.slots)) - (tail - head)
	if uint64(len(updates)) > free {
		return fmt.Errorf("%w: %d pending, capacity %d", ErrQueueFull, tail-head, len(pc.slots))
	}

	for i, u := range updates {
		pc.slots[(tail+uint64(i))&pc.mask] = u
	}
	// publish the whole batch at once
	pc.tail.Store(tail + uint64(len(updates)))
	return nil
}

// Drain applies every published update in FIFO order and returns how many
// were applied. Only the render context may call Drain.
func (pc *ParameterChannel) Drain(apply func(u *Update)) int {
	head := pc.head.Load()
	tail := pc.tail.Load()
	for i := head; i != tail; i++ {
		slot := &pc.slots[i&pc.mask]
		apply(slot)
		slot.kernel = nil // let the old kernel reference go
	}
	pc.head.Store(tail)
	return int(tail - head)
}
