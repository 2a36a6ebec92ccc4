// Package backend asks a text-generation service for fence edit commands.
package backend

import (
	"context"
	"errors"
	"fmt"
)

// Mode selects which prompt and model a request uses
type Mode int

const (
	ModeInitial Mode = iota
	ModeFallback
	ModeSelfRepair
)

func (m Mode) String() string {
	switch m {
	case ModeInitial:
		return "initial"
	case ModeFallback:
		return "fallback"
	case ModeSelfRepair:
		return "self-repair"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

var (
	// ErrNoEndpoints is returned when the HTTP backend has nowhere to send a request
	ErrNoEndpoints = errors.New("no backend endpoints configured")
	// ErrEmptyResponse is returned when the provider answered without choices
	ErrEmptyResponse = errors.New("backend returned no choices")
)

// TokenRef is a token as shown to the backend: fixed-width ID and text
type TokenRef struct {
	ID   string
	Text string
}

// Request carries everything a backend needs to produce commands.
// PriorCommands and ErrorContext are only used in self-repair mode.
type Request struct {
	Mode          Mode
	Tokens        []TokenRef
	PriorCommands string
	ErrorContext  string
}

// Backend returns raw command text, one command per line
type Backend interface {
	Request(ctx context.Context, req Request) (string, error)
	Model(mode Mode) string
}

// Static always answers with the configured text for each mode.
// Missing modes answer with an empty string.
type Static struct {
	Responses map[Mode]string
	Models    map[Mode]string
}

// Request returns the canned response for req.Mode
func (s Static) Request(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.Responses[req.Mode], nil
}

// Model returns the configured model name, or "static"
func (s Static) Model(mode Mode) string {
	if name, ok := s.Models[mode]; ok {
		return name
	}
	return "static"
}

// Func adapts a function to the Backend interface
type Func func(ctx context.Context, req Request) (string, error)

// Request calls f
func (f Func) Request(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Model names the adapter after the mode
func (f Func) Model(mode Mode) string {
	return "func-" + mode.String()
}
