package media

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/hajimehoshi/ebiten/v2/audio/mp3"
	"github.com/hajimehoshi/ebiten/v2/audio/wav"
)

// bytesPerFrame is the size of one 16-bit stereo PCM frame.
const bytesPerFrame = 4

// ErrUnsupportedFormat is returned for files that are neither WAV nor MP3.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

type decodeFunc func(sampleRate int, r io.ReadSeeker) (io.Reader, error)

func decodeWAV(sampleRate int, r io.ReadSeeker) (io.Reader, error) {
	return wav.DecodeWithSampleRate(sampleRate, r)
}

func decodeMP3(sampleRate int, r io.ReadSeeker) (io.Reader, error) {
	return mp3.DecodeWithSampleRate(sampleRate, r)
}

// decoderFor picks a decoder from the file extension, falling back to the
// RIFF magic for extensionless names.
func decoderFor(uri string, head []byte) (decodeFunc, error) {
	switch strings.ToLower(filepath.Ext(uri)) {
	case ".wav", ".wave":
		return decodeWAV, nil
	case ".mp3":
		return decodeMP3, nil
	case "":
		if bytes.HasPrefix(head, []byte("RIFF")) {
			return decodeWAV, nil
		}
		return decodeMP3, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(uri))
}

// decoded is a fully decoded track: interleaved 16-bit stereo PCM for the
// player and a mono float copy for analysis.
type decoded struct {
	pcm        []byte
	mono       []float32
	sampleRate int
}

func (d *decoded) duration() time.Duration {
	return framesToDuration(len(d.mono), d.sampleRate)
}

func decodeTrack(sampleRate int, uri string, raw []byte) (*decoded, error) {
	dec, err := decoderFor(uri, raw)
	if err != nil {
		return nil, err
	}
	stream, err := dec(sampleRate, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decoding %q: %w", uri, err)
	}
	pcm, err := io.ReadAll(stream)
	if err != nil {
		return nil, fmt.Errorf("reading decoded %q: %w", uri, err)
	}
	pcm = pcm[:len(pcm)-len(pcm)%bytesPerFrame]
	if len(pcm) == 0 {
		return nil, fmt.Errorf("%q has no audio data", uri)
	}
	return &decoded{pcm: pcm, mono: decodeStereoI16ToFloat(pcm), sampleRate: sampleRate}, nil
}

// decodeStereoI16ToFloat averages interleaved little-endian stereo frames into
// mono samples in [-1,1).
func decodeStereoI16ToFloat(pcm []byte) []float32 {
	frameCount := len(pcm) / bytesPerFrame
	if frameCount == 0 {
		return nil
	}
	samples := make([]float32, frameCount)
	for i := range samples {
		offset := i * bytesPerFrame
		left := int16(binary.LittleEndian.Uint16(pcm[offset : offset+2]))
		right := int16(binary.LittleEndian.Uint16(pcm[offset+2 : offset+4]))
		samples[i] = (float32(left) + float32(right)) * (0.5 / 32768.0)
	}
	return samples
}

func framesToDuration(frames, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}

// frameAt returns the sample index reached at position pos, clamped to the
// track length.
func frameAt(pos time.Duration, sampleRate, frames int) int {
	if pos <= 0 {
		return 0
	}
	i := int(int64(pos) * int64(sampleRate) / int64(time.Second))
	if i > frames {
		i = frames
	}
	return i
}
