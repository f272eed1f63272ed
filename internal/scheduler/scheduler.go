// Package scheduler coordinates the two transcription worker loops: a
// single-slot file worker and a continuous stream worker, serialized
// against one inference engine handle.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/murmurlabs/murmur-core/internal/audio"
	"github.com/murmurlabs/murmur-core/internal/config"
	"github.com/murmurlabs/murmur-core/internal/engine"
	"github.com/murmurlabs/murmur-core/internal/mel"
	"github.com/murmurlabs/murmur-core/internal/vocab"
)

// Action selects what the file worker should do with a request.
type Action int

const (
	ActionTranscribe Action = iota
	// ActionTranslate is recognized but reserved; requests are reported
	// as unsupported rather than guessed at.
	ActionTranslate
)

// ErrNotInitialized is reported through the listener when a transcription
// operation is attempted before a successful Load.
var ErrNotInitialized = errors.New("scheduler: engine not initialized")

// Sources reported through Listener.OnResult.
const (
	SourceFile   = "file"
	SourceStream = "stream"
)

// Listener receives status and result callbacks. Callbacks fire on the
// issuing worker goroutine; a status always precedes its corresponding
// result, with no other ordering guarantee.
type Listener interface {
	OnStatus(message string)
	OnResult(source, text string)
}

type fileRequest struct {
	path   string
	action Action
}

// engineState is the loaded vocabulary, extractor and engine, swapped
// atomically as a unit on Load/Unload.
type engineState struct {
	tbl *vocab.Table
	ext *mel.Extractor
	eng engine.Engine
}

// Scheduler owns the file and stream worker loops. Both loops run for the
// scheduler's whole lifetime; the only cross-loop synchronization point
// is the engine lock, which guarantees at most one inference call at any
// instant.
type Scheduler struct {
	cfg      config.EngineConfig
	log      *slog.Logger
	listener Listener
	queue    *audio.Queue

	engineMu sync.Mutex // serializes all engine invocations

	mu      sync.Mutex
	cond    *sync.Cond
	pending *fileRequest // latest-wins single slot
	wake    bool         // set when a submission wins the in-progress CAS

	inProgress atomic.Bool

	stateMu sync.RWMutex
	state   *engineState

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	transcriptions metric.Int64Counter
	failures       metric.Int64Counter
}

func New(parent context.Context, cfg config.EngineConfig, queue *audio.Queue, listener Listener, log *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(parent)
	s := &Scheduler{
		cfg:      cfg,
		log:      log.With(slog.String("component", "scheduler")),
		listener: listener,
		queue:    queue,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.cond = sync.NewCond(&s.mu)

	meter := otel.Meter("murmur-core/scheduler")
	var err error
	if s.transcriptions, err = meter.Int64Counter("murmur_transcriptions_total"); err != nil {
		s.log.Warn("failed to create transcription counter", slogError(err))
	}
	if s.failures, err = meter.Int64Counter("murmur_transcription_failures_total"); err != nil {
		s.log.Warn("failed to create failure counter", slogError(err))
	}
	return s
}

// Load parses the vocabulary blob, builds the mel extractor around its
// filter bank, and constructs the configured engine. Transitions the
// scheduler to Initialized; a prior engine is released first.
func (s *Scheduler) Load(vocabPath string, multilingual bool) error {
	tbl, err := vocab.LoadFile(vocabPath, multilingual)
	if err != nil {
		return fmt.Errorf("load vocabulary: %w", err)
	}
	eng, err := engine.New(s.cfg, tbl)
	if err != nil {
		return fmt.Errorf("construct engine: %w", err)
	}

	next := &engineState{tbl: tbl, ext: mel.New(tbl.Filters()), eng: eng}

	s.engineMu.Lock()
	s.stateMu.Lock()
	prev := s.state
	s.state = next
	s.stateMu.Unlock()
	s.engineMu.Unlock()

	if prev != nil {
		if err := prev.eng.Close(); err != nil {
			s.log.Warn("failed to close previous engine", slogError(err))
		}
	}
	s.log.Info("engine initialized",
		slog.String("vocab", vocabPath),
		slog.Bool("multilingual", multilingual),
		slog.String("mode", s.cfg.Mode))
	return nil
}

// Unload releases the engine and returns the scheduler to the
// uninitialized state. Waits for any in-flight inference to finish.
func (s *Scheduler) Unload() {
	s.engineMu.Lock()
	s.stateMu.Lock()
	prev := s.state
	s.state = nil
	s.stateMu.Unlock()
	s.engineMu.Unlock()

	if prev != nil {
		if err := prev.eng.Close(); err != nil {
			s.log.Warn("failed to close engine", slogError(err))
		}
		s.log.Info("engine released")
	}
}

// Initialized reports whether a Load has succeeded.
func (s *Scheduler) Initialized() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state != nil
}

// InProgress reports whether a file transcription is pending or running.
func (s *Scheduler) InProgress() bool {
	return s.inProgress.Load()
}

// Start launches the file and stream worker loops.
func (s *Scheduler) Start() {
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.fileLoop()
	}()
	go func() {
		defer s.wg.Done()
		s.streamLoop()
	}()
}

// Close stops both workers and releases the engine. The chunk queue is
// closed to unpark the stream worker; an in-flight inference runs to
// completion first.
func (s *Scheduler) Close() {
	s.cancel()
	s.queue.Close()
	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
	s.wg.Wait()
	s.Unload()
}

// SubmitFile places a file request in the single pending slot and wakes
// the file worker. A newer request silently replaces an unconsumed prior
// one; once a transcription is in progress further submissions are no-ops
// until it completes.
func (s *Scheduler) SubmitFile(path string, action Action) {
	s.mu.Lock()
	s.pending = &fileRequest{path: path, action: action}
	s.mu.Unlock()

	if s.inProgress.CompareAndSwap(false, true) {
		s.mu.Lock()
		s.wake = true
		s.cond.Signal()
		s.mu.Unlock()
	}
}

func (s *Scheduler) fileLoop() {
	for {
		s.mu.Lock()
		for !s.wake && s.ctx.Err() == nil {
			s.cond.Wait()
		}
		if s.ctx.Err() != nil {
			s.mu.Unlock()
			return
		}
		s.wake = false
		req := s.pending
		s.pending = nil
		s.mu.Unlock()

		if req == nil {
			s.inProgress.Store(false)
			continue
		}
		s.processFile(req)
	}
}

// processFile runs one file transcription. The in-progress flag is
// cleared unconditionally so a failure can never wedge the slot.
func (s *Scheduler) processFile(req *fileRequest) {
	defer s.inProgress.Store(false)

	state := s.snapshot()
	if state == nil {
		s.log.Warn("file request before engine load", slog.String("path", req.path))
		s.listener.OnStatus(ErrNotInitialized.Error())
		return
	}
	if req.action == ActionTranslate {
		s.listener.OnStatus("translation is not supported yet")
		return
	}
	if _, err := os.Stat(req.path); err != nil {
		s.count(s.failures)
		s.listener.OnStatus(fmt.Sprintf("file not found: %s", req.path))
		return
	}

	s.listener.OnStatus(fmt.Sprintf("transcribing %s", req.path))

	samples, err := audio.ReadWAV(req.path, mel.SampleRate)
	if err != nil {
		s.count(s.failures)
		s.listener.OnStatus(fmt.Sprintf("failed to decode audio: %v", err))
		return
	}

	// The engine's input tensor is fixed at 30 seconds: pad short files,
	// truncate longer ones.
	window := mel.FixedWindow(samples)

	s.engineMu.Lock()
	features := state.ext.Compute(window, s.cfg.Threads)
	tokens, err := state.eng.Infer(s.ctx, features)
	s.engineMu.Unlock()

	if err != nil {
		s.count(s.failures)
		s.log.Warn("file inference failed", slog.String("path", req.path), slogError(err))
		s.listener.OnStatus(fmt.Sprintf("transcription failed: %v", err))
		return
	}

	s.count(s.transcriptions)
	s.listener.OnResult(SourceFile, decode(state.tbl, tokens))
}

// streamLoop services the continuous feed of recorded chunks. Stream
// chunks are shorter than the file window and are transcribed as-is,
// without 30 second padding, to keep partial-result latency low.
func (s *Scheduler) streamLoop() {
	for {
		chunk, ok := s.queue.Pop()
		if !ok {
			return
		}
		state := s.snapshot()
		if state == nil {
			s.listener.OnStatus(ErrNotInitialized.Error())
			continue
		}

		s.engineMu.Lock()
		features := state.ext.Compute(chunk, s.cfg.Threads)
		tokens, err := state.eng.Infer(s.ctx, features)
		s.engineMu.Unlock()

		if err != nil {
			s.count(s.failures)
			s.log.Warn("stream inference failed", slogError(err))
			s.listener.OnStatus(fmt.Sprintf("stream transcription failed: %v", err))
			continue
		}

		s.count(s.transcriptions)
		if text := decode(state.tbl, tokens); text != "" {
			s.listener.OnResult(SourceStream, text)
		}
	}
}

func (s *Scheduler) snapshot() *engineState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

func (s *Scheduler) count(c metric.Int64Counter) {
	if c != nil {
		c.Add(s.ctx, 1)
	}
}

// decode turns token ids into text. Ids at or above end-of-transcript are
// control tokens (task markers, timestamps) and carry no text; decoding
// stops at the first end-of-transcript id.
func decode(tbl *vocab.Table, tokens []int32) string {
	var sb strings.Builder
	for _, id := range tokens {
		if id == tbl.EndOfTranscript() {
			break
		}
		if id >= tbl.EndOfTranscript() {
			continue
		}
		if w, ok := tbl.Word(id); ok {
			sb.WriteString(w)
		}
	}
	return sb.String()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
