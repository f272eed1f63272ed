// Package vocab parses the combined vocabulary + mel filter blob shipped
// alongside a transcription model and resolves token ids to words.
package vocab

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// Magic marks the start of a vocabulary blob ("USEN" little-endian).
const Magic = 0x5553454e

// Vocabulary ceilings. Multilingual models reserve one extra id below the
// English-only table, which shifts every special token up by one.
const (
	EnglishVocabSize      = 51864
	MultilingualVocabSize = 51865
)

// English-only special token ids. Multilingual tables use these plus one.
const (
	baseEndOfTranscript  = 50256
	baseStartOfTranscript = 50257
	baseTranslate        = 50358
	baseTranscribe       = 50359
	basePreviousContext  = 50360
	baseStartOfLM        = 50361
	baseNoTimestamps     = 50362
	baseTimestampBegin   = 50363
)

// ErrInvalidFormat reports a blob that does not start with the expected
// magic marker or carries malformed dimensions.
var ErrInvalidFormat = errors.New("vocab: invalid blob format")

// FilterBank is the dense mel projection matrix stored in the blob,
// NMel rows by NFFT columns in row-major order.
type FilterBank struct {
	NMel int
	NFFT int
	Data []float32
}

// Row returns filter row m.
func (fb *FilterBank) Row(m int) []float32 {
	return fb.Data[m*fb.NFFT : (m+1)*fb.NFFT]
}

// Table maps token ids to words and exposes the special token ids for a
// loaded vocabulary. Immutable after Load.
type Table struct {
	words        map[int32]string
	size         int32
	multilingual bool
	filters      FilterBank

	eot       int32
	sot       int32
	translate int32
	transcribe int32
	prev      int32
	solm      int32
	not       int32
	beg       int32
}

// LoadFile reads and parses a vocabulary blob from disk.
func LoadFile(path string, multilingual bool) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocab blob: %w", err)
	}
	defer f.Close()
	return Load(f, multilingual)
}

// Load parses a vocabulary blob: a magic marker, the mel filter matrix
// dimensions and data, then length-prefixed UTF-8 vocabulary entries.
// Ids absent from the serialized table up to the vocabulary ceiling are
// synthesized with fixed special-token labels.
func Load(r io.Reader, multilingual bool) (*Table, error) {
	var magic uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("read vocab magic: %w", err)
	}
	if magic != Magic {
		return nil, fmt.Errorf("%w: bad magic 0x%08x", ErrInvalidFormat, magic)
	}

	var nMel, nFFT int32
	if err := binary.Read(r, binary.LittleEndian, &nMel); err != nil {
		return nil, fmt.Errorf("read filter dims: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &nFFT); err != nil {
		return nil, fmt.Errorf("read filter dims: %w", err)
	}
	if nMel <= 0 || nFFT <= 0 || nMel > 1<<12 || nFFT > 1<<16 {
		return nil, fmt.Errorf("%w: filter dims %dx%d", ErrInvalidFormat, nMel, nFFT)
	}

	filters := FilterBank{
		NMel: int(nMel),
		NFFT: int(nFFT),
		Data: make([]float32, int(nMel)*int(nFFT)),
	}
	if err := binary.Read(r, binary.LittleEndian, filters.Data); err != nil {
		return nil, fmt.Errorf("read filter matrix: %w", err)
	}

	var nVocab int32
	if err := binary.Read(r, binary.LittleEndian, &nVocab); err != nil {
		return nil, fmt.Errorf("read vocab count: %w", err)
	}
	if nVocab < 0 || nVocab > MultilingualVocabSize {
		return nil, fmt.Errorf("%w: vocab count %d", ErrInvalidFormat, nVocab)
	}

	t := &Table{
		words:        make(map[int32]string, MultilingualVocabSize),
		multilingual: multilingual,
		filters:      filters,
	}

	shift := int32(0)
	t.size = EnglishVocabSize
	if multilingual {
		shift = 1
		t.size = MultilingualVocabSize
	}
	t.eot = baseEndOfTranscript + shift
	t.sot = baseStartOfTranscript + shift
	t.translate = baseTranslate + shift
	t.transcribe = baseTranscribe + shift
	t.prev = basePreviousContext + shift
	t.solm = baseStartOfLM + shift
	t.not = baseNoTimestamps + shift
	t.beg = baseTimestampBegin + shift

	word := make([]byte, 0, 64)
	for i := int32(0); i < nVocab; i++ {
		var length int32
		if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
			return nil, fmt.Errorf("read vocab entry %d: %w", i, err)
		}
		if length < 0 || length > 1<<16 {
			return nil, fmt.Errorf("%w: entry %d length %d", ErrInvalidFormat, i, length)
		}
		if cap(word) < int(length) {
			word = make([]byte, length)
		}
		word = word[:length]
		if _, err := io.ReadFull(r, word); err != nil {
			return nil, fmt.Errorf("read vocab entry %d: %w", i, err)
		}
		t.words[i] = string(word)
	}

	// Fill the remaining ids up to the ceiling with synthesized labels.
	for id := nVocab; id < t.size; id++ {
		t.words[id] = t.syntheticWord(id)
	}

	return t, nil
}

func (t *Table) syntheticWord(id int32) string {
	switch {
	case id > t.beg:
		return fmt.Sprintf("[_TT_%d]", id-t.beg)
	case id == t.eot:
		return "[_EOT_]"
	case id == t.sot:
		return "[_SOT_]"
	case id == t.prev:
		return "[_PREV_]"
	case id == t.not:
		return "[_NOT_]"
	case id == t.beg:
		return "[_BEG_]"
	case id == t.solm:
		return "[_SOLM_]"
	default:
		return fmt.Sprintf("[_extra_token_%d]", id)
	}
}

// Word returns the word for a token id.
func (t *Table) Word(id int32) (string, bool) {
	w, ok := t.words[id]
	return w, ok
}

// Size returns the vocabulary ceiling for the loaded table.
func (t *Table) Size() int32 { return t.size }

// Multilingual reports whether the table was loaded with the
// multilingual id shift.
func (t *Table) Multilingual() bool { return t.multilingual }

// Filters returns the mel filter bank stored alongside the vocabulary.
func (t *Table) Filters() *FilterBank { return &t.filters }

// Special token accessors, fixed after load.

func (t *Table) EndOfTranscript() int32   { return t.eot }
func (t *Table) StartOfTranscript() int32 { return t.sot }
func (t *Table) Translate() int32         { return t.translate }
func (t *Table) Transcribe() int32        { return t.transcribe }
func (t *Table) PreviousContext() int32   { return t.prev }
func (t *Table) StartOfLM() int32         { return t.solm }
func (t *Table) NoTimestamps() int32      { return t.not }
func (t *Table) TimestampBegin() int32    { return t.beg }
