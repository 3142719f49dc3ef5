package audiodec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/zaf/g711"
	"gopkg.in/hraban/opus.v2"
)

// G711Rate is the sample rate of raw telephony audio.
const G711Rate = 8000

// opusRate is the rate libopusfile always decodes at.
const opusRate = 48000

func decodeWAV(f *os.File) (*PCM, error) {
	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, errors.New("invalid wav file")
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, err
	}
	if buf.Format == nil || buf.Format.NumChannels == 0 {
		return nil, errors.New("wav: missing format")
	}

	depth := int(d.BitDepth)
	if depth == 0 {
		depth = 16
	}
	scale := float64(int64(1) << (depth - 1))

	return &PCM{
		Samples:    downmix(buf.Data, buf.Format.NumChannels, func(v int) float64 { return float64(v) / scale }),
		SampleRate: buf.Format.SampleRate,
	}, nil
}

func decodeMP3(f *os.File) (*PCM, error) {
	d, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, err
	}
	// go-mp3 always emits 16-bit little-endian stereo.
	raw, err := io.ReadAll(d)
	if err != nil {
		return nil, err
	}
	return &PCM{
		Samples:    downmix(pcm16(BytesToSamples(raw)), 2, fromInt16),
		SampleRate: d.SampleRate(),
	}, nil
}

func decodeOpus(f *os.File) (*PCM, error) {
	channels, err := opusChannels(f)
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	s, err := opus.NewStream(f)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	var out []int
	frame := make([]int16, 5760*channels) // 120 ms at 48 kHz
	for {
		n, err := s.Read(frame)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, pcm16(frame[:n*channels])...)
	}
	return &PCM{Samples: downmix(out, channels, fromInt16), SampleRate: opusRate}, nil
}

// opusChannels reads the channel count from the OpusHead packet on the
// first Ogg page.
func opusChannels(r io.Reader) (int, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return 0, err
	}
	i := bytes.Index(head[:n], []byte("OpusHead"))
	if i < 0 || i+9 >= n {
		return 0, errors.New("ogg: no OpusHead packet")
	}
	ch := int(head[i+9])
	if ch < 1 || ch > 8 {
		return 0, fmt.Errorf("ogg: bad channel count %d", ch)
	}
	return ch, nil
}

func decodeUlaw(f *os.File) (*PCM, error) {
	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return &PCM{Samples: downmix(pcm16(BytesToSamples(g711.DecodeUlaw(raw))), 1, fromInt16), SampleRate: G711Rate}, nil
}

func decodeAlaw(f *os.File) (*PCM, error) {
	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return &PCM{Samples: downmix(pcm16(BytesToSamples(g711.DecodeAlaw(raw))), 1, fromInt16), SampleRate: G711Rate}, nil
}

func fromInt16(v int) float64 { return float64(v) / 32768 }

func pcm16(s []int16) []int {
	out := make([]int, len(s))
	for i, v := range s {
		out[i] = int(v)
	}
	return out
}

// downmix averages interleaved channels into one.
func downmix(data []int, channels int, conv func(int) float64) []float64 {
	if channels < 1 {
		channels = 1
	}
	frames := len(data) / channels
	out := make([]float64, frames)
	for i := range out {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += conv(data[i*channels+c])
		}
		out[i] = sum / float64(channels)
	}
	return out
}
