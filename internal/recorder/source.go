package recorder

import (
	"fmt"
	"io"
	"os"
	"time"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/murmurlabs/murmur-core/internal/mel"
)

// SilenceSource is a development stand-in for the platform microphone:
// it yields zero samples paced to wall-clock capture speed.
type SilenceSource struct{}

func NewSilenceSource() *SilenceSource { return &SilenceSource{} }

func (s *SilenceSource) Read(buf []int16) (int, error) {
	time.Sleep(time.Duration(len(buf)) * time.Second / mel.SampleRate)
	for i := range buf {
		buf[i] = 0
	}
	return len(buf), nil
}

func (s *SilenceSource) Close() error { return nil }

// WAVSource replays a 16 kHz mono 16-bit WAV file at capture speed,
// returning io.EOF once the file is exhausted. Useful for exercising the
// full pipeline without a microphone.
type WAVSource struct {
	dec    *wav.Decoder
	file   *os.File
	ticker *time.Ticker
}

func NewWAVSource(path string) (*WAVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture wav: %w", err)
	}
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("not a valid wav file: %s", path)
	}
	if int(dec.SampleRate) != mel.SampleRate || dec.NumChans != 1 {
		f.Close()
		return nil, fmt.Errorf("capture wav must be %d Hz mono", mel.SampleRate)
	}
	return &WAVSource{dec: dec, file: f}, nil
}

func (s *WAVSource) Read(buf []int16) (int, error) {
	if s.ticker == nil {
		s.ticker = time.NewTicker(time.Duration(len(buf)) * time.Second / mel.SampleRate)
	}
	<-s.ticker.C

	intBuf := &gaudio.IntBuffer{
		Format: &gaudio.Format{NumChannels: 1, SampleRate: mel.SampleRate},
		Data:   make([]int, len(buf)),
	}
	n, err := s.dec.PCMBuffer(intBuf)
	if err != nil {
		return 0, fmt.Errorf("read capture wav: %w", err)
	}
	if n == 0 {
		return 0, io.EOF
	}
	for i := 0; i < n; i++ {
		buf[i] = int16(intBuf.Data[i])
	}
	return n, nil
}

func (s *WAVSource) Close() error {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	return s.file.Close()
}
