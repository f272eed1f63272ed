package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/murmurlabs/murmur-core/internal/audio"
	"github.com/murmurlabs/murmur-core/internal/bus"
	"github.com/murmurlabs/murmur-core/internal/config"
	"github.com/murmurlabs/murmur-core/internal/natsserver"
	"github.com/murmurlabs/murmur-core/internal/protocol"
	"github.com/murmurlabs/murmur-core/internal/recorder"
	"github.com/murmurlabs/murmur-core/internal/scheduler"
	"github.com/murmurlabs/murmur-core/internal/store"
)

// Runtime composes the embedded bus, transcript store, transcription
// scheduler and recording session behind one HTTP control surface.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error

	natsServer  *natsserver.EmbeddedServer
	busClient   *bus.Client
	transcripts *store.Store
	queue       *audio.Queue
	sched       *scheduler.Scheduler
	rec         *recorder.Session
	source      recorder.Source

	sessionMu sync.Mutex
	sessionID string

	ready atomic.Bool
	wg    sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if r.cfg.Bus.Enabled {
		ns, err := natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start embedded bus: %w", err)
		}
		r.natsServer = ns

		busCfg := r.cfg.Bus
		if busCfg.Embedded {
			busCfg.Servers = []string{fmt.Sprintf("nats://127.0.0.1:%d", busCfg.Port)}
		}
		client, err := bus.Connect(ctx, busCfg, r.logger)
		if err != nil {
			r.natsServer.Shutdown()
			return fmt.Errorf("failed to connect to bus: %w", err)
		}
		r.busClient = client
	}

	st, err := store.Open(ctx, r.cfg.Store, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open transcript store: %w", err)
	}
	r.transcripts = st

	sink := &events{rt: r}

	r.queue = audio.NewQueue()
	r.sched = scheduler.New(ctx, r.cfg.Engine, r.queue, sink, r.logger)
	if err := r.sched.Load(r.cfg.Engine.VocabPath, r.cfg.Engine.Multilingual); err != nil {
		// Transcription requests report the uninitialized engine until a
		// usable vocabulary shows up, so the daemon still comes up.
		r.logger.Warn("engine load failed, transcription disabled",
			slog.String("vocab_path", r.cfg.Engine.VocabPath),
			slog.String("error", err.Error()))
	}
	r.sched.Start()

	r.source, err = newSource(r.cfg.Recorder)
	if err != nil {
		return fmt.Errorf("failed to open capture source: %w", err)
	}
	r.rec = recorder.New(r.source, r.queue, sink, r.cfg.Recorder.OutputPath, r.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	mux.HandleFunc("/v1/record/start", r.handleRecordStart)
	mux.HandleFunc("/v1/record/stop", r.handleRecordStop)
	mux.HandleFunc("/v1/transcribe", r.handleTranscribe)
	mux.HandleFunc("/v1/level", r.handleLevel)
	mux.HandleFunc("/v1/transcripts", r.handleTranscripts)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	r.rec.Stop()
	r.sched.Close()
	if err := r.source.Close(); err != nil {
		r.logger.Error("capture source close error", slog.String("error", err.Error()))
	}
	if err := r.transcripts.Close(); err != nil {
		r.logger.Error("store close error", slog.String("error", err.Error()))
	}
	r.busClient.Close()
	r.natsServer.Shutdown()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func newSource(cfg config.RecorderConfig) (recorder.Source, error) {
	switch cfg.Source {
	case "wav":
		return recorder.NewWAVSource(cfg.SourceWAV)
	default:
		return recorder.NewSilenceSource(), nil
	}
}

func (r *Runtime) setSession(id string) {
	r.sessionMu.Lock()
	r.sessionID = id
	r.sessionMu.Unlock()
}

func (r *Runtime) currentSession() string {
	r.sessionMu.Lock()
	defer r.sessionMu.Unlock()
	return r.sessionID
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleRecordStart(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := uuid.NewString()
	if !r.rec.Start() {
		http.Error(w, "already recording", http.StatusConflict)
		return
	}
	r.setSession(id)
	if err := r.transcripts.AppendSession(req.Context(), id, "recording"); err != nil {
		r.logger.Error("persist session", slog.String("error", err.Error()))
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id})
}

func (r *Runtime) handleRecordStop(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.rec.Stop()
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": r.currentSession(),
		"output":     r.cfg.Recorder.OutputPath,
	})
}

type transcribeRequest struct {
	Path   string `json:"path"`
	Action string `json:"action"`
}

func (r *Runtime) handleTranscribe(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body transcribeRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Path == "" {
		http.Error(w, "path is required", http.StatusBadRequest)
		return
	}
	action := scheduler.ActionTranscribe
	switch body.Action {
	case "", "transcribe":
	case "translate":
		action = scheduler.ActionTranslate
	default:
		http.Error(w, "action must be transcribe or translate", http.StatusBadRequest)
		return
	}

	id := uuid.NewString()
	r.setSession(id)
	if err := r.transcripts.AppendSession(req.Context(), id, "file"); err != nil {
		r.logger.Error("persist session", slog.String("error", err.Error()))
	}
	r.sched.SubmitFile(body.Path, action)
	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": id})
}

func (r *Runtime) handleLevel(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rms":       r.rec.Level(),
		"recording": r.rec.Recording(),
	})
}

func (r *Runtime) handleTranscripts(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessionID := req.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = r.currentSession()
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	transcripts, err := r.transcripts.ListSessionTranscripts(req.Context(), sessionID, limit)
	if err != nil {
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":  sessionID,
		"transcripts": transcripts,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// events fans pipeline callbacks out to the log, the bus and the store.
// Callbacks arrive on worker goroutines and must not block for long.
type events struct {
	rt *Runtime
}

func (e *events) OnStatus(message string) {
	rt := e.rt
	session := rt.currentSession()
	rt.logger.Info("pipeline status", slog.String("session_id", session), slog.String("message", message))
	rt.busClient.PublishJSON(protocol.SubjectStatus, protocol.Status{
		SessionID: session,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rt.transcripts.AppendTranscript(ctx, session, "status", message); err != nil {
		rt.logger.Error("persist status", slog.String("error", err.Error()))
	}
}

func (e *events) OnResult(source, text string) {
	rt := e.rt
	session := rt.currentSession()
	rt.logger.Info("transcript",
		slog.String("session_id", session),
		slog.String("source", source),
		slog.String("text", text))

	subject := protocol.SubjectTranscriptStream
	if source == scheduler.SourceFile {
		subject = protocol.SubjectTranscriptFile
	}
	rt.busClient.PublishJSON(subject, protocol.Transcript{
		SessionID: session,
		Text:      text,
		Source:    source,
		Timestamp: time.Now().UTC(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rt.transcripts.AppendTranscript(ctx, session, source, text); err != nil {
		rt.logger.Error("persist transcript", slog.String("error", err.Error()))
	}
}

// OnChunk fires once per streaming chunk handed to the queue; the chunk
// itself is already in flight, so only the level snapshot goes out.
func (e *events) OnChunk([]float32) {
	rt := e.rt
	rt.busClient.PublishJSON(protocol.SubjectAudioLevel, protocol.AudioLevel{
		SessionID: rt.currentSession(),
		RMS:       rt.rec.Level(),
		Timestamp: time.Now().UTC(),
	})
}
