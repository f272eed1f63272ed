// Package recorder owns the audio capture loop: it accumulates samples
// from a capture source, feeds fixed-duration chunks into the streaming
// transcription queue, and persists the take as a WAV file on stop.
package recorder

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/murmurlabs/murmur-core/internal/audio"
	"github.com/murmurlabs/murmur-core/internal/mel"
)

const (
	// MaxSeconds is the hard recording ceiling.
	MaxSeconds = 60
	// ChunkSeconds is the streaming feed granularity.
	ChunkSeconds = 3

	maxSamples   = MaxSeconds * mel.SampleRate
	chunkSamples = ChunkSeconds * mel.SampleRate
)

// Source yields blocks of 16-bit mono PCM at 16 kHz. Read blocks until
// samples are available and returns io.EOF when the source is exhausted.
type Source interface {
	Read(buf []int16) (int, error)
	Close() error
}

// Listener receives capture callbacks on the session goroutine.
type Listener interface {
	OnStatus(message string)
	OnChunk(samples []float32)
}

// Session is a restartable recording session. Start is a check-and-set:
// a second Start while recording is a no-op. Stop synchronously joins the
// capture loop, so the WAV file is complete when Stop returns.
type Session struct {
	log      *slog.Logger
	src      Source
	sink     *audio.Queue
	listener Listener
	outPath  string

	recording atomic.Bool
	levelBits atomic.Uint64

	mu   sync.Mutex
	done chan struct{}
}

func New(src Source, sink *audio.Queue, listener Listener, outPath string, log *slog.Logger) *Session {
	return &Session{
		log:      log.With(slog.String("component", "recorder")),
		src:      src,
		sink:     sink,
		listener: listener,
		outPath:  outPath,
	}
}

// Start launches the capture loop. Returns false if a session is already
// recording.
func (s *Session) Start() bool {
	if !s.recording.CompareAndSwap(false, true) {
		s.log.Debug("start ignored, already recording")
		return false
	}
	done := make(chan struct{})
	s.mu.Lock()
	s.done = done
	s.mu.Unlock()

	go s.loop(done)
	return true
}

// Stop clears the recording flag and blocks until the capture loop has
// persisted the WAV file. Safe to call when not recording.
func (s *Session) Stop() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return
	}
	s.recording.Store(false)
	<-done
}

// Recording reports whether the capture loop is active.
func (s *Session) Recording() bool {
	return s.recording.Load()
}

// Level returns the root-mean-square level of the most recent capture
// block, in [0, 1].
func (s *Session) Level() float64 {
	return math.Float64frombits(s.levelBits.Load())
}

func (s *Session) loop(done chan struct{}) {
	defer close(done)
	defer s.recording.Store(false)

	s.listener.OnStatus("recording started")
	s.log.Info("capture loop started", slog.String("output", s.outPath))

	save := make([]int16, 0, maxSamples)
	roll := make([]int16, 0, chunkSamples)
	buf := make([]int16, 1600) // 100 ms blocks

	for s.recording.Load() && len(save) < maxSamples {
		n, err := s.src.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Warn("capture read failed", slogError(err))
				s.listener.OnStatus("capture failed: " + err.Error())
			}
			break
		}
		block := buf[:n]
		s.levelBits.Store(math.Float64bits(audio.RMS(block)))

		if room := maxSamples - len(save); n > room {
			block = block[:room]
		}
		save = append(save, block...)
		roll = append(roll, block...)

		// The rolling buffer feeds the streaming transcription path in
		// fixed-duration chunks and resets each time it fills.
		if len(roll) >= chunkSamples {
			chunk := audio.Normalize(roll)
			s.sink.Push(chunk)
			s.listener.OnChunk(chunk)
			roll = roll[:0]
		}
	}

	if err := audio.WriteWAV(s.outPath, save, mel.SampleRate); err != nil {
		s.log.Warn("failed to persist recording", slogError(err))
		s.listener.OnStatus("failed to save recording: " + err.Error())
	} else {
		s.log.Info("recording saved",
			slog.String("path", s.outPath),
			slog.Int("samples", len(save)))
		s.listener.OnStatus("recording saved: " + s.outPath)
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
