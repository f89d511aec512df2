package gophisynth

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/GeoffreyPlitt/debuggo"
)

var controlDebug = debuggo.Debug("phisynth:control")

// ErrInvalidCommand is returned for control lines that cannot be parsed
var ErrInvalidCommand = errors.New("invalid control command")

// Control verbs
const (
	VerbStart  = "start"
	VerbStop   = "stop"
	VerbVoice  = "voice"
	VerbFilter = "filter"
	VerbReverb = "reverb"
	VerbEffect = "effect"
	VerbSet    = "set"
)

// reverb words that are not key=value pairs
const (
	reverbWordToggle = "toggle"
	reverbWordOn     = "on"
	reverbWordOff    = "off"
	reverbKeyLoad    = "load"
)

// Assignment is one name=value pair from a control line
type Assignment struct {
	Name  string
	Value string
}

// Command is one parsed control line, e.g.
//
//	voice 0 frequency=220 gain=0.3
//	reverb toggle
//	effect granular grainSize=0.05
type Command struct {
	Verb   string
	Target string       // voice id, effect name or target address; empty for reverb
	Words  []string     // bare words such as "toggle"
	Params []Assignment // in line order
	Line   int
}

// stripComment cuts a trailing // or # comment. A marker only starts a
// comment at the beginning of the line or after whitespace, so paths such as
// /tmp/a#b.wav survive.
func stripComment(line string) string {
	for i := 0; i < len(line); i++ {
		if i > 0 && line[i-1] != ' ' && line[i-1] != '\t' {
			continue
		}
		if line[i] == '#' || strings.HasPrefix(line[i:], "//") {
			return line[:i]
		}
	}
	return line
}

// ParseControlLine parses one control line. Blank lines and comments (// or
// #) return a nil command and no error.
func ParseControlLine(line string) (*Command, error) {
	line = stripComment(line)
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil, nil
	}

	cmd := &Command{Verb: strings.ToLower(parts[0])}
	args := parts[1:]

	switch cmd.Verb {
	case VerbStart, VerbStop:
		if len(args) != 1 {
			return nil, fmt.Errorf("%w: %s takes exactly one voice id", ErrInvalidCommand, cmd.Verb)
		}
		cmd.Target = args[0]
		return cmd, nil
	case VerbVoice, VerbFilter, VerbEffect, VerbSet:
		if len(args) == 0 || strings.Contains(args[0], "=") {
			return nil, fmt.Errorf("%w: %s needs a target", ErrInvalidCommand, cmd.Verb)
		}
		cmd.Target = args[0]
		args = args[1:]
	case VerbReverb:
	default:
		return nil, fmt.Errorf("%w: unknown verb %q", ErrInvalidCommand, cmd.Verb)
	}

	for _, part := range args {
		equalIndex := strings.Index(part, "=")
		if equalIndex == -1 {
			if cmd.Verb != VerbReverb {
				return nil, fmt.Errorf("%w: expected name=value, got %q", ErrInvalidCommand, part)
			}
			cmd.Words = append(cmd.Words, strings.ToLower(part))
			continue
		}

		name := strings.TrimSpace(part[:equalIndex])
		value := strings.TrimSpace(part[equalIndex+1:])
		if name == "" || value == "" {
			return nil, fmt.Errorf("%w: malformed assignment %q", ErrInvalidCommand, part)
		}
		cmd.Params = append(cmd.Params, Assignment{Name: name, Value: value})
	}

	if len(cmd.Params) == 0 && len(cmd.Words) == 0 {
		return nil, fmt.Errorf("%w: %s without parameters", ErrInvalidCommand, cmd.Verb)
	}
	return cmd, nil
}

// ParseControlScript parses every line of r. It stops at the first invalid
// line.
func ParseControlScript(r io.Reader) ([]*Command, error) {
	scanner := bufio.NewScanner(r)
	lineNum := 0
	var cmds []*Command

	for scanner.Scan() {
		lineNum++
		cmd, err := ParseControlLine(scanner.Text())
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		if cmd == nil {
			continue
		}
		cmd.Line = lineNum
		cmds = append(cmds, cmd)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading control script: %w", err)
	}

	controlDebug("Parsed %d control commands", len(cmds))
	return cmds, nil
}

// Exec parses and applies one control line
func (e *Engine) Exec(line string) error {
	cmd, err := ParseControlLine(line)
	if err != nil || cmd == nil {
		return err
	}
	return e.Apply(cmd)
}

// Apply validates every change in cmd and sends them as one batch, so they
// take effect in the same block. Nothing is sent if any change is rejected.
func (e *Engine) Apply(cmd *Command) error {
	controlDebug("Applying %s %s %v %v", cmd.Verb, cmd.Target, cmd.Words, cmd.Params)

	updates, err := e.commandUpdates(cmd)
	if err != nil {
		if cmd.Line > 0 {
			return fmt.Errorf("line %d: %w", cmd.Line, err)
		}
		return err
	}
	return e.send(updates...)
}

func (e *Engine) commandUpdates(cmd *Command) ([]Update, error) {
	switch cmd.Verb {
	case VerbStart, VerbStop:
		id, err := parseVoiceID(cmd.Target)
		if err != nil {
			return nil, err
		}
		u, err := e.voiceUpdate(id, paramRunning, boolValue(cmd.Verb == VerbStart))
		if err != nil {
			return nil, err
		}
		return []Update{u}, nil
	case VerbVoice, VerbFilter:
		id, err := parseVoiceID(cmd.Target)
		if err != nil {
			return nil, err
		}
		build := e.voiceUpdate
		if cmd.Verb == VerbFilter {
			build = e.filterUpdate
		}
		return assignmentUpdates(cmd.Params, func(name string, value float64) (Update, error) {
			return build(id, name, value)
		})
	case VerbEffect:
		return assignmentUpdates(cmd.Params, func(name string, value float64) (Update, error) {
			return e.effectUpdate(cmd.Target, name, value)
		})
	case VerbSet:
		return assignmentUpdates(cmd.Params, func(name string, value float64) (Update, error) {
			return e.targetUpdate(cmd.Target, name, value)
		})
	case VerbReverb:
		return e.reverbCommandUpdates(cmd)
	}
	return nil, fmt.Errorf("%w: unknown verb %q", ErrInvalidCommand, cmd.Verb)
}

func (e *Engine) reverbCommandUpdates(cmd *Command) ([]Update, error) {
	var updates []Update

	for _, word := range cmd.Words {
		var u Update
		var err error
		switch word {
		case reverbWordToggle:
			u, err = e.reverbUpdate(ParamToggle, 0)
		case reverbWordOn:
			u, err = e.reverbUpdate(ParamEnabled, 1)
		case reverbWordOff:
			u, err = e.reverbUpdate(ParamEnabled, 0)
		default:
			return nil, fmt.Errorf("%w: unknown reverb word %q", ErrInvalidCommand, word)
		}
		if err != nil {
			return nil, err
		}
		updates = append(updates, u)
	}

	for _, a := range cmd.Params {
		var u Update
		var err error
		switch a.Name {
		case reverbKeyLoad:
			u, err = e.impulseFileUpdate(a.Value)
		case ParamEnabled:
			var on bool
			on, err = parseSwitch(a.Value)
			if err == nil {
				u, err = e.reverbUpdate(ParamEnabled, boolValue(on))
			}
		default:
			var value float64
			value, err = parseValue(a)
			if err == nil {
				u, err = e.reverbUpdate(a.Name, value)
			}
		}
		if err != nil {
			return nil, err
		}
		updates = append(updates, u)
	}
	return updates, nil
}

func assignmentUpdates(params []Assignment, build func(name string, value float64) (Update, error)) ([]Update, error) {
	updates := make([]Update, 0, len(params))
	for _, a := range params {
		value, err := parseValue(a)
		if err != nil {
			return nil, err
		}
		u, err := build(a.Name, value)
		if err != nil {
			return nil, err
		}
		updates = append(updates, u)
	}
	return updates, nil
}

func parseVoiceID(s string) (int, error) {
	id, err := strconv.Atoi(strings.TrimPrefix(s, voiceTargetPrefix))
	if err != nil {
		return 0, fmt.Errorf("%w: invalid voice id %q", ErrInvalidCommand, s)
	}
	return id, nil
}

func parseValue(a Assignment) (float64, error) {
	if on, err := parseSwitch(a.Value); err == nil && !isNumeric(a.Value) {
		return boolValue(on), nil
	}
	v, err := strconv.ParseFloat(a.Value, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid value for %s: %q", ErrInvalidCommand, a.Name, a.Value)
	}
	return v, nil
}

// parseSwitch accepts true/false, on/off, yes/no and 1/0
func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "1", "true", "on", "yes":
		return true, nil
	case "0", "false", "off", "no":
		return false, nil
	}
	return false, fmt.Errorf("%w: invalid switch value %q", ErrInvalidCommand, s)
}

func isNumeric(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
