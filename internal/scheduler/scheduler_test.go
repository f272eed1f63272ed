package scheduler

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/murmurlabs/murmur-core/internal/audio"
	"github.com/murmurlabs/murmur-core/internal/config"
	"github.com/murmurlabs/murmur-core/internal/mel"
	"github.com/murmurlabs/murmur-core/internal/vocab"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// writeVocabBlob writes a small but well-formed vocabulary blob: an 8-band
// all-pass filter bank and two real words.
func writeVocabBlob(t *testing.T, dir string) string {
	t.Helper()
	const nMel, nFFT = 8, 201
	var buf bytes.Buffer
	write := func(v any) {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			t.Fatalf("build blob: %v", err)
		}
	}
	write(uint32(vocab.Magic))
	write(int32(nMel))
	write(int32(nFFT))
	filters := make([]float32, nMel*nFFT)
	for i := range filters {
		filters[i] = 1
	}
	write(filters)
	words := []string{"hello", " world"}
	write(int32(len(words)))
	for _, w := range words {
		write(int32(len(w)))
		buf.WriteString(w)
	}

	path := filepath.Join(dir, "vocab.bin")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write blob: %v", err)
	}
	return path
}

func writeSilentWAV(t *testing.T, dir, name string, seconds float64) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := audio.WriteWAV(path, make([]int16, int(seconds*mel.SampleRate)), mel.SampleRate); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	return path
}

type recListener struct {
	events chan string
}

func newRecListener() *recListener {
	return &recListener{events: make(chan string, 64)}
}

func (l *recListener) OnStatus(message string) { l.events <- "status:" + message }

func (l *recListener) OnResult(source, text string) {
	l.events <- "result:" + source + ":" + text
}

func (l *recListener) next(t *testing.T) string {
	t.Helper()
	select {
	case e := <-l.events:
		return e
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for listener event")
		return ""
	}
}

func newTestScheduler(t *testing.T, listener Listener) (*Scheduler, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.EngineConfig{Mode: "reference", Threads: 2}
	s := New(context.Background(), cfg, audio.NewQueue(), listener, newLogger())
	return s, dir
}

func TestFileNotInitializedReported(t *testing.T) {
	l := newRecListener()
	s, dir := newTestScheduler(t, l)
	s.Start()
	t.Cleanup(s.Close)

	s.SubmitFile(filepath.Join(dir, "any.wav"), ActionTranscribe)
	if e := l.next(t); !strings.Contains(e, "not initialized") {
		t.Fatalf("unexpected event %q", e)
	}
	if s.InProgress() {
		t.Fatal("in-progress flag not cleared after failure")
	}
}

func TestFileNotFoundReported(t *testing.T) {
	l := newRecListener()
	s, dir := newTestScheduler(t, l)
	if err := s.Load(writeVocabBlob(t, dir), false); err != nil {
		t.Fatalf("load: %v", err)
	}
	s.Start()
	t.Cleanup(s.Close)

	s.SubmitFile(filepath.Join(dir, "missing.wav"), ActionTranscribe)
	if e := l.next(t); !strings.Contains(e, "file not found") {
		t.Fatalf("unexpected event %q", e)
	}
}

func TestTranslateReportedAsUnsupported(t *testing.T) {
	l := newRecListener()
	s, dir := newTestScheduler(t, l)
	if err := s.Load(writeVocabBlob(t, dir), false); err != nil {
		t.Fatalf("load: %v", err)
	}
	s.Start()
	t.Cleanup(s.Close)

	path := writeSilentWAV(t, dir, "in.wav", 0.5)
	s.SubmitFile(path, ActionTranslate)
	if e := l.next(t); !strings.Contains(e, "not supported") {
		t.Fatalf("unexpected event %q", e)
	}
}

func TestSilentFileDecodesToEmptyResult(t *testing.T) {
	l := newRecListener()
	s, dir := newTestScheduler(t, l)
	if err := s.Load(writeVocabBlob(t, dir), false); err != nil {
		t.Fatalf("load: %v", err)
	}
	s.Start()
	t.Cleanup(s.Close)

	path := writeSilentWAV(t, dir, "silence.wav", 1)
	s.SubmitFile(path, ActionTranscribe)

	if e := l.next(t); !strings.HasPrefix(e, "status:transcribing") {
		t.Fatalf("expected transcribing status, got %q", e)
	}
	if e := l.next(t); e != "result:file:" {
		t.Fatalf("expected empty result for silence, got %q", e)
	}
	if s.InProgress() {
		t.Fatal("in-progress flag not cleared after completion")
	}
}

func TestSubmitLatestWins(t *testing.T) {
	l := newRecListener()
	s, dir := newTestScheduler(t, l)
	if err := s.Load(writeVocabBlob(t, dir), false); err != nil {
		t.Fatalf("load: %v", err)
	}
	t.Cleanup(s.Close)

	first := writeSilentWAV(t, dir, "first.wav", 0.2)
	second := writeSilentWAV(t, dir, "second.wav", 0.2)

	// Workers are not running yet, so the second submission replaces the
	// first in the pending slot before either is serviced.
	s.SubmitFile(first, ActionTranscribe)
	s.SubmitFile(second, ActionTranscribe)
	s.Start()

	if e := l.next(t); !strings.Contains(e, "second.wav") {
		t.Fatalf("expected second request serviced, got %q", e)
	}
	if e := l.next(t); !strings.HasPrefix(e, "result:") {
		t.Fatalf("expected a single result, got %q", e)
	}

	// No further events: the first request was overwritten, never serviced.
	select {
	case e := <-l.events:
		t.Fatalf("unexpected extra event %q", e)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStreamDecodesTokens(t *testing.T) {
	l := newRecListener()
	s, dir := newTestScheduler(t, l)
	blob := writeVocabBlob(t, dir)
	if err := s.Load(blob, false); err != nil {
		t.Fatalf("load: %v", err)
	}
	// Swap in an engine with known output: "hello" + " world" + EOT, then
	// a trailing id that must never be decoded.
	tbl := s.snapshot().tbl
	s.stateMu.Lock()
	s.state.eng = fixedEngine{tokens: []int32{0, tbl.TimestampBegin() + 3, 1, tbl.EndOfTranscript(), 0}}
	s.stateMu.Unlock()

	s.Start()
	t.Cleanup(s.Close)

	s.queue.Push(make(audio.Chunk, 3*mel.SampleRate))
	if e := l.next(t); e != "result:stream:hello world" {
		t.Fatalf("expected decoded stream result, got %q", e)
	}
}

func TestStreamNotInitializedReported(t *testing.T) {
	l := newRecListener()
	s, _ := newTestScheduler(t, l)
	s.Start()
	t.Cleanup(s.Close)

	s.queue.Push(make(audio.Chunk, mel.SampleRate))
	if e := l.next(t); !strings.Contains(e, "not initialized") {
		t.Fatalf("unexpected event %q", e)
	}
}

type fixedEngine struct {
	tokens []int32
}

func (e fixedEngine) Infer(context.Context, *mel.Spectrogram) ([]int32, error) {
	return e.tokens, nil
}
func (e fixedEngine) Close() error { return nil }
