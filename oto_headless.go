//go:build headless

package gophisynth

import (
	"errors"
)

// OtoPlayer is unavailable in headless builds
type OtoPlayer struct{}

// NewOtoPlayer returns an error in headless builds
func NewOtoPlayer(engine *Engine) (*OtoPlayer, error) {
	return nil, errors.New("audio output not available: built with headless tag")
}

func (op *OtoPlayer) Start() error {
	return errors.New("audio output not available")
}

func (op *OtoPlayer) Stop() error {
	return errors.New("audio output not available")
}

func (op *OtoPlayer) Close() error {
	return nil
}

func (op *OtoPlayer) IsStarted() bool {
	return false
}
