// Package flow orchestrates the get and make sessions.
//
// A Getter ties keystrokes, the debounce gate, the session state machine, the
// sampling loop and the backend together: committed passphrases activate
// polling, every published sample becomes at most one retrieve call, and the
// outcome moves the session to matched, keeps it processing, or stops it.
//
// A Maker keeps the latest sample from a faster loop, lets the user freeze one
// as the fingerprint, and registers it with a passphrase and message.
package flow

import (
	"context"

	"miyu/internal/exchange"
	"miyu/internal/extract"
	"miyu/internal/sampling"
)

// Sampler is the part of sampling.Loop the flows drive.
type Sampler interface {
	Start(ctx context.Context) error
	Stop()
	Subscribe(fn func(context.Context, sampling.Sample))
	Latest() (sampling.Sample, bool)
	Reset()
	Activation() uint64
}

// Retriever looks up a hidden message.
type Retriever interface {
	Retrieve(ctx context.Context, passphrase string, descriptors extract.Matrix) (string, error)
}

// Registrar stores a hidden message.
type Registrar interface {
	Register(ctx context.Context, req exchange.RegisterRequest) (exchange.Confirmation, error)
}

var (
	_ Sampler   = (*sampling.Loop)(nil)
	_ Retriever = (*exchange.Client)(nil)
	_ Registrar = (*exchange.Client)(nil)
)
