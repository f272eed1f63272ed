// Package engine abstracts the neural transcription backend. The engine
// consumes a fixed-shape mel feature tensor and returns token ids; its
// internals are opaque to the rest of the pipeline.
package engine

import (
	"context"
	"fmt"

	"github.com/murmurlabs/murmur-core/internal/config"
	"github.com/murmurlabs/murmur-core/internal/mel"
	"github.com/murmurlabs/murmur-core/internal/vocab"
)

// Engine runs inference over a mel spectrogram. Implementations are not
// required to be safe for concurrent calls; the scheduler serializes
// access behind a single lock.
type Engine interface {
	// Infer returns the token id sequence for the feature tensor,
	// terminated by an end-of-transcript id or buffer exhaustion.
	Infer(ctx context.Context, features *mel.Spectrogram) ([]int32, error)
	Close() error
}

// New selects an engine implementation by configured mode. The reference
// implementation is pure Go; exec mode shells out to an accelerated
// inference process with the same behavioral contract.
func New(cfg config.EngineConfig, tbl *vocab.Table) (Engine, error) {
	switch cfg.Mode {
	case "", "reference":
		return NewReference(tbl), nil
	case "exec":
		return NewExec(cfg)
	default:
		return nil, fmt.Errorf("unknown engine mode %q", cfg.Mode)
	}
}
