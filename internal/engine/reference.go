package engine

import (
	"context"

	"github.com/murmurlabs/murmur-core/internal/mel"
	"github.com/murmurlabs/murmur-core/internal/vocab"
)

// referenceEngine is the pure-Go stand-in used for development and tests.
// It performs no real recognition: it inspects the dynamic range of the
// normalized features and returns an immediate end-of-transcript for
// silence, or a no-timestamps marker followed by end-of-transcript when
// the tensor carries energy. Token decoding downstream yields empty text
// either way, which is the documented behavior for silent input.
type referenceEngine struct {
	eot int32
	not int32
}

func NewReference(tbl *vocab.Table) Engine {
	return &referenceEngine{eot: tbl.EndOfTranscript(), not: tbl.NoTimestamps()}
}

// Silence normalizes to a flat tensor; any real signal spreads values
// across the clamped 8-decade range.
const silenceSpread = 0.25

func (e *referenceEngine) Infer(ctx context.Context, features *mel.Spectrogram) ([]int32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(features.Data) == 0 {
		return []int32{e.eot}, nil
	}
	lo, hi := features.Data[0], features.Data[0]
	for _, v := range features.Data {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if float64(hi-lo) < silenceSpread {
		return []int32{e.eot}, nil
	}
	return []int32{e.not, e.eot}, nil
}

func (e *referenceEngine) Close() error { return nil }
