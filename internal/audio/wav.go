package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavBitDepth = 16

// WAVWriter streams float PCM into a 16-bit WAV file chunk by chunk.
type WAVWriter struct {
	f      *os.File
	enc    *wav.Encoder
	format *goaudio.Format
	frames int
}

func NewWAVWriter(path string, sampleRate, channels int) (*WAVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create wav file: %w", err)
	}
	return &WAVWriter{
		f:      f,
		enc:    wav.NewEncoder(f, sampleRate, wavBitDepth, channels, 1),
		format: &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
	}, nil
}

// Write appends b, which must match the writer's rate and channel count.
func (w *WAVWriter) Write(b *Buffer) error {
	if b.Channels != w.format.NumChannels || b.SampleRate != w.format.SampleRate {
		return fmt.Errorf("wav chunk format %dHz/%dch does not match writer %dHz/%dch",
			b.SampleRate, b.Channels, w.format.SampleRate, w.format.NumChannels)
	}
	data := make([]int, len(b.Data))
	for i, s := range b.Data {
		data[i] = floatToPCM16(s)
	}
	buf := &goaudio.IntBuffer{Format: w.format, Data: data, SourceBitDepth: wavBitDepth}
	if err := w.enc.Write(buf); err != nil {
		return fmt.Errorf("failed to write wav chunk: %w", err)
	}
	w.frames += b.Frames()
	return nil
}

// Frames returns the number of sample frames written so far.
func (w *WAVWriter) Frames() int {
	return w.frames
}

// Close finalizes the RIFF header and closes the file.
func (w *WAVWriter) Close() error {
	encErr := w.enc.Close()
	fileErr := w.f.Close()
	if encErr != nil {
		return fmt.Errorf("failed to finalize wav: %w", encErr)
	}
	return fileErr
}

func floatToPCM16(s float32) int {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return int(s * 32767)
}

// Chunks splits b into consecutive pieces of chunkSec seconds; the last piece
// may be shorter. Chunks share b's storage.
func Chunks(b *Buffer, chunkSec float64) []*Buffer {
	size := FrameCount(chunkSec, b.SampleRate)
	if size <= 0 {
		return []*Buffer{b}
	}
	var out []*Buffer
	for from := 0; from < b.Frames(); from += size {
		out = append(out, b.Slice(from, from+size))
	}
	return out
}

// ErrNotWAV is returned by DecodeWAV for input without a RIFF/WAVE header.
var ErrNotWAV = errors.New("not a wav file")

// DecodeWAV reads an integer PCM WAV stream into a float buffer.
func DecodeWAV(r io.ReadSeeker) (*Buffer, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, ErrNotWAV
	}
	pcm, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to decode wav: %w", err)
	}
	depth := int(d.BitDepth)
	if depth <= 0 {
		depth = wavBitDepth
	}
	scale := float32(int64(1) << (depth - 1))
	out := &Buffer{
		SampleRate: int(d.SampleRate),
		Channels:   int(d.NumChans),
		Data:       make([]float32, len(pcm.Data)),
	}
	for i, v := range pcm.Data {
		out.Data[i] = float32(v) / scale
	}
	return out, nil
}
