package tts

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/zaf/g711"
)

// WAV returns the audio as a complete WAV file. Raw PCM and mu-law are
// wrapped in a RIFF header, MP3 is decoded first, and WAV passes through.
func (r *AudioResult) WAV() ([]byte, error) {
	if len(r.Audio) == 0 {
		return nil, ErrEmptyAudio
	}

	switch enc := r.Format.Encoding; {
	case enc == EncodingWAV:
		if len(r.Audio) < 12 || !bytes.Equal(r.Audio[:4], []byte("RIFF")) || !bytes.Equal(r.Audio[8:12], []byte("WAVE")) {
			return nil, fmt.Errorf("%w: body is not a RIFF/WAVE file", ErrUnsupportedEncoding)
		}
		return r.Audio, nil

	case enc.IsPCM():
		rate := r.Format.SampleRate
		if rate == 0 {
			rate = SampleRateFromEncoding(enc)
		}
		return encodeWAV(pcm16(r.Audio), rate, 1)

	case enc == EncodingULaw:
		return encodeWAV(pcm16(g711.DecodeUlaw(r.Audio)), 8000, 1)

	case enc == EncodingMP3:
		d, err := mp3.NewDecoder(bytes.NewReader(r.Audio))
		if err != nil {
			return nil, fmt.Errorf("decode mp3: %w", err)
		}
		raw, err := io.ReadAll(d)
		if err != nil {
			return nil, fmt.Errorf("decode mp3: %w", err)
		}
		// go-mp3 always emits 16-bit stereo.
		return encodeWAV(pcm16(raw), d.SampleRate(), 2)

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEncoding, enc)
	}
}

// pcm16 unpacks little-endian 16-bit samples.
func pcm16(data []byte) []int {
	out := make([]int, len(data)/2)
	for i := range out {
		out[i] = int(int16(data[i*2]) | int16(data[i*2+1])<<8)
	}
	return out
}

func encodeWAV(samples []int, rate, channels int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyAudio
	}

	var ws writeSeeker
	enc := wav.NewEncoder(&ws, rate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	return ws.buf, nil
}

// writeSeeker is an in-memory io.WriteSeeker; the wav encoder seeks back
// to patch chunk sizes on Close.
type writeSeeker struct {
	buf []byte
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	if need := w.pos + len(p); need > len(w.buf) {
		w.buf = append(w.buf, make([]byte, need-len(w.buf))...)
	}
	n := copy(w.buf[w.pos:], p)
	w.pos += n
	return n, nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(w.pos) + offset
	case io.SeekEnd:
		abs = int64(len(w.buf)) + offset
	default:
		return 0, errors.New("writeSeeker: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("writeSeeker: negative position")
	}
	w.pos = int(abs)
	return abs, nil
}
