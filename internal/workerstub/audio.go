package workerstub

import (
	"fmt"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	sampleRateHz = 44100
	bitDepth     = 16
	numChannels  = 1
)

// WriteToneWAV renders seconds of a deterministic sine tone at freqHz to a
// new temp file and returns it open for reading, positioned at the start.
// The caller must Close it. A stand-in for the real vocoder's output —
// structurally valid, seekable PCM audio a range-aware handler can serve.
func WriteToneWAV(seconds int, freqHz float64) (*os.File, error) {
	if seconds <= 0 {
		seconds = 1
	}

	tmp, err := os.CreateTemp("", "synthesize-*.wav")
	if err != nil {
		return nil, fmt.Errorf("workerstub: create temp wav: %w", err)
	}

	enc := wav.NewEncoder(tmp, sampleRateHz, bitDepth, numChannels, 1)
	numSamples := seconds * sampleRateHz
	samples := make([]int, numSamples)
	amplitude := 0.2 * float64(1<<(bitDepth-1))
	for i := range samples {
		t := float64(i) / sampleRateHz
		samples[i] = int(amplitude * math.Sin(2*math.Pi*freqHz*t))
	}

	buf := &audio.IntBuffer{
		Data:           samples,
		Format:         &audio.Format{SampleRate: sampleRateHz, NumChannels: numChannels},
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("workerstub: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("workerstub: finalize wav: %w", err)
	}

	if _, err := tmp.Seek(0, 0); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("workerstub: rewind wav: %w", err)
	}
	return tmp, nil
}
