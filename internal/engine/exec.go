package engine

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/mattn/go-shellwords"
	"github.com/murmurlabs/murmur-core/internal/config"
	"github.com/murmurlabs/murmur-core/internal/mel"
)

// execEngine drives an external accelerated inference process. Features
// are handed over as a raw little-endian float32 tensor in a temp file;
// the process prints the token ids as JSON on stdout.
type execEngine struct {
	cmd       []string
	modelPath string
	mu        sync.Mutex
}

type execResult struct {
	Tokens []int32 `json:"tokens"`
}

func NewExec(cfg config.EngineConfig) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse engine command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("engine command is empty")
	}
	return &execEngine{cmd: args, modelPath: cfg.ModelPath}, nil
}

func (e *execEngine) Infer(ctx context.Context, features *mel.Spectrogram) ([]int32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	file, err := os.CreateTemp(os.TempDir(), "murmur_features_*.bin")
	if err != nil {
		return nil, fmt.Errorf("temp feature file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := binary.Write(file, binary.LittleEndian, features.Data); err != nil {
		return nil, fmt.Errorf("write feature tensor: %w", err)
	}
	if err := file.Sync(); err != nil {
		return nil, fmt.Errorf("flush feature tensor: %w", err)
	}

	args := append([]string{}, e.cmd[1:]...)
	args = append(args,
		"--features", file.Name(),
		"--mel", strconv.Itoa(features.NMel),
		"--frames", strconv.Itoa(features.NLen),
	)
	if e.modelPath != "" {
		args = append(args, "--model", e.modelPath)
	}

	command := exec.CommandContext(ctx, e.cmd[0], args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("engine command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode engine response: %w", err)
	}
	return resp.Tokens, nil
}

func (e *execEngine) Close() error { return nil }
