package audiodec

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/zaf/g711"
)

func sine(freq float64, rate int, d time.Duration) []int {
	n := int(d.Seconds() * float64(rate))
	out := make([]int, n)
	for i := range out {
		out[i] = int(16000 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func writeWAV(t *testing.T, data []int, rate, channels int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDecodeWAV(t *testing.T) {
	path := writeWAV(t, sine(200, 16000, time.Second), 16000, 1)

	pcm, err := DecodeFile(path)
	if err != nil {
		t.Fatalf("DecodeFile: %v", err)
	}
	if pcm.SampleRate != 16000 {
		t.Errorf("SampleRate = %d", pcm.SampleRate)
	}
	if len(pcm.Samples) != 16000 {
		t.Errorf("len = %d, want 16000", len(pcm.Samples))
	}
	if rms := RMS(pcm.Samples); rms < 0.3 || rms > 0.4 {
		t.Errorf("RMS = %.3f, want about 0.345", rms)
	}
}

func TestDecodeWAVStereoDownmix(t *testing.T) {
	mono := sine(200, 8000, 500*time.Millisecond)
	stereo := make([]int, 0, len(mono)*2)
	for _, v := range mono {
		stereo = append(stereo, v, -v)
	}
	path := writeWAV(t, stereo, 8000, 2)

	pcm, err := DecodeFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(pcm.Samples) != len(mono) {
		t.Fatalf("len = %d, want %d", len(pcm.Samples), len(mono))
	}
	if rms := RMS(pcm.Samples); rms > 1e-9 {
		t.Errorf("opposite channels should cancel, RMS = %g", rms)
	}
}

func TestDecodeUlaw(t *testing.T) {
	raw := make([]byte, 0, 1600)
	for _, v := range sine(300, G711Rate, 100*time.Millisecond) {
		raw = append(raw, byte(int16(v)), byte(int16(v)>>8))
	}
	path := filepath.Join(t.TempDir(), "call.ulaw")
	if err := os.WriteFile(path, g711.EncodeUlaw(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	pcm, err := DecodeFile(path)
	if err != nil {
		t.Fatalf("DecodeFile: %v", err)
	}
	if pcm.SampleRate != G711Rate || len(pcm.Samples) != 800 {
		t.Errorf("got rate %d, %d samples", pcm.SampleRate, len(pcm.Samples))
	}
}

func TestDecodeErrors(t *testing.T) {
	dir := t.TempDir()

	flac := filepath.Join(dir, "a.flac")
	_ = os.WriteFile(flac, []byte("fLaC"), 0o644)
	if _, err := DecodeFile(flac); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("flac: err = %v, want ErrUnsupportedFormat", err)
	}

	bad := filepath.Join(dir, "bad.wav")
	_ = os.WriteFile(bad, []byte("not a wav"), 0o644)
	if _, err := DecodeFile(bad); err == nil {
		t.Error("expected error for garbage wav")
	}

	empty := filepath.Join(dir, "empty.ulaw")
	_ = os.WriteFile(empty, nil, 0o644)
	if _, err := DecodeFile(empty); !errors.Is(err, ErrNoAudio) {
		t.Errorf("empty: err = %v, want ErrNoAudio", err)
	}

	if _, err := DecodeFile(filepath.Join(dir, "missing.wav")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing: err = %v", err)
	}
}

func TestSupported(t *testing.T) {
	tests := map[string]bool{
		"a.wav": true, "b.MP3": true, "c.opus": true, "d.ulaw": true,
		"e.flac": false, "f.m4a": false, "noext": false,
	}
	for path, want := range tests {
		if got := Supported(path); got != want {
			t.Errorf("Supported(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestOpusChannels(t *testing.T) {
	page := append([]byte("OggS\x00\x02"), make([]byte, 22)...)
	page = append(page, []byte("OpusHead\x01\x02\x38\x01")...)

	ch, err := opusChannels(bytes.NewReader(page))
	if err != nil {
		t.Fatal(err)
	}
	if ch != 2 {
		t.Errorf("channels = %d, want 2", ch)
	}

	if _, err := opusChannels(bytes.NewReader([]byte("OggS nothing here"))); err == nil {
		t.Error("expected error without OpusHead")
	}
}

func TestPCMTruncateAndResample(t *testing.T) {
	p := &PCM{Samples: make([]float64, 48000), SampleRate: 48000}
	if p.Duration() != time.Second {
		t.Errorf("Duration = %v", p.Duration())
	}

	r := p.Resample(AnalysisRate)
	if len(r.Samples) != 16000 || r.SampleRate != AnalysisRate {
		t.Errorf("resampled to %d samples at %d", len(r.Samples), r.SampleRate)
	}

	r.Truncate(250 * time.Millisecond)
	if len(r.Samples) != 4000 {
		t.Errorf("truncated len = %d, want 4000", len(r.Samples))
	}
	r.Truncate(0)
	if len(r.Samples) != 4000 {
		t.Errorf("zero max should keep samples, len = %d", len(r.Samples))
	}
}

func TestResample(t *testing.T) {
	t.Run("same rate", func(t *testing.T) {
		in := []float64{0.1, 0.2, 0.3}
		out := Resample(in, 16000, 16000)
		if len(out) != 3 || out[2] != 0.3 {
			t.Errorf("got %v", out)
		}
	})

	t.Run("downsample", func(t *testing.T) {
		out := Resample(make([]float64, 960), 48000, 16000)
		if len(out) != 320 {
			t.Errorf("len = %d, want 320", len(out))
		}
	})

	t.Run("interpolates", func(t *testing.T) {
		out := Resample([]float64{0, 1}, 8000, 16000)
		if len(out) != 4 || math.Abs(out[1]-0.5) > 1e-9 {
			t.Errorf("got %v", out)
		}
	})

	t.Run("empty", func(t *testing.T) {
		if out := Resample(nil, 8000, 16000); len(out) != 0 {
			t.Errorf("got %v", out)
		}
	})
}

func TestBytesToSamples(t *testing.T) {
	samples := BytesToSamples([]byte{0x02, 0x01, 0x04, 0x03})
	if len(samples) != 2 || samples[0] != 0x0102 || samples[1] != 0x0304 {
		t.Errorf("got %#v", samples)
	}
}
