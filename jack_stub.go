//go:build !jack
// +build !jack

package gophisynth

import (
	"errors"
	"fmt"
)

var errJackDisabled = errors.New("phisynth JACK backend not enabled")

// JackClient stub for builds without JACK support
type JackClient struct{}

// NewJackClient creates a stub JACK client that returns an error
func NewJackClient(cfg Config, clientName string) (*JackClient, error) {
	return nil, fmt.Errorf("%w: rebuild with '-tags jack' and ensure JACK development headers are installed", errJackDisabled)
}

// Engine returns nil for stub client
func (jc *JackClient) Engine() *Engine {
	return nil
}

// Start returns an error for stub client
func (jc *JackClient) Start() error {
	return errJackDisabled
}

// Stop returns an error for stub client
func (jc *JackClient) Stop() error {
	return errJackDisabled
}

// Close returns an error for stub client
func (jc *JackClient) Close() error {
	return errJackDisabled
}
