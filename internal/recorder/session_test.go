package recorder

import (
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/murmurlabs/murmur-core/internal/audio"
	"github.com/murmurlabs/murmur-core/internal/mel"
)

// toneSource yields a full-scale sine as fast as the loop can read it,
// optionally exhausting after a fixed number of samples.
type toneSource struct {
	phase int
	limit int // 0 = unlimited
}

func (s *toneSource) Read(buf []int16) (int, error) {
	if s.limit > 0 && s.phase >= s.limit {
		return 0, io.EOF
	}
	n := len(buf)
	if s.limit > 0 && s.phase+n > s.limit {
		n = s.limit - s.phase
	}
	for i := 0; i < n; i++ {
		buf[i] = int16(30000 * math.Sin(2*math.Pi*440*float64(s.phase+i)/mel.SampleRate))
	}
	s.phase += n
	return n, nil
}

func (s *toneSource) Close() error { return nil }

type captureListener struct {
	mu       sync.Mutex
	statuses []string
	chunks   int
}

func (l *captureListener) OnStatus(message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses = append(l.statuses, message)
}

func (l *captureListener) OnChunk(samples []float32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.chunks++
}

func (l *captureListener) chunkCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.chunks
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartIsIdempotent(t *testing.T) {
	out := filepath.Join(t.TempDir(), "take.wav")
	sess := New(&toneSource{}, audio.NewQueue(), &captureListener{}, out, testLogger())

	if !sess.Start() {
		t.Fatal("first start should begin recording")
	}
	if sess.Start() {
		t.Fatal("second start should be a no-op")
	}
	sess.Stop()
	if sess.Recording() {
		t.Fatal("still recording after stop")
	}

	// The session is restartable once stopped.
	if !sess.Start() {
		t.Fatal("restart after stop should succeed")
	}
	sess.Stop()
}

func TestStopPersistsCompleteWAV(t *testing.T) {
	out := filepath.Join(t.TempDir(), "take.wav")
	queue := audio.NewQueue()
	listener := &captureListener{}
	sess := New(&toneSource{}, queue, listener, out, testLogger())

	if !sess.Start() {
		t.Fatal("start failed")
	}
	waitFor(t, "first streaming chunk", func() bool { return queue.Len() > 0 })
	sess.Stop()

	// Stop is a synchronous join: the file must be complete already.
	samples, err := audio.ReadWAV(out, mel.SampleRate)
	if err != nil {
		t.Fatalf("read persisted wav: %v", err)
	}
	if len(samples) < chunkSamples {
		t.Fatalf("persisted %d samples, want at least one chunk", len(samples))
	}

	chunk, ok := queue.Pop()
	if !ok {
		t.Fatal("no chunk queued")
	}
	if len(chunk) < chunkSamples {
		t.Fatalf("chunk has %d samples, want >= %d", len(chunk), chunkSamples)
	}
	if listener.chunkCount() == 0 {
		t.Fatal("listener saw no chunks")
	}
}

func TestRecordingStopsAtCeiling(t *testing.T) {
	out := filepath.Join(t.TempDir(), "take.wav")
	sess := New(&toneSource{}, audio.NewQueue(), &captureListener{}, out, testLogger())

	if !sess.Start() {
		t.Fatal("start failed")
	}
	waitFor(t, "ceiling", func() bool { return !sess.Recording() })
	sess.Stop()

	samples, err := audio.ReadWAV(out, mel.SampleRate)
	if err != nil {
		t.Fatalf("read persisted wav: %v", err)
	}
	if len(samples) != MaxSeconds*mel.SampleRate {
		t.Fatalf("persisted %d samples, want ceiling %d", len(samples), MaxSeconds*mel.SampleRate)
	}
}

func TestSourceExhaustionPersistsPartialTake(t *testing.T) {
	out := filepath.Join(t.TempDir(), "take.wav")
	limit := mel.SampleRate / 2
	sess := New(&toneSource{limit: limit}, audio.NewQueue(), &captureListener{}, out, testLogger())

	if !sess.Start() {
		t.Fatal("start failed")
	}
	waitFor(t, "source exhaustion", func() bool { return !sess.Recording() })
	sess.Stop()

	samples, err := audio.ReadWAV(out, mel.SampleRate)
	if err != nil {
		t.Fatalf("read persisted wav: %v", err)
	}
	if len(samples) != limit {
		t.Fatalf("persisted %d samples, want %d", len(samples), limit)
	}
}

func TestLevelTracksInput(t *testing.T) {
	out := filepath.Join(t.TempDir(), "take.wav")
	sess := New(&toneSource{}, audio.NewQueue(), &captureListener{}, out, testLogger())

	if !sess.Start() {
		t.Fatal("start failed")
	}
	waitFor(t, "level update", func() bool { return sess.Level() > 0.5 })
	sess.Stop()
}
