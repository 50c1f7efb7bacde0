package audio

import (
	"math"
	"testing"
)

// sine generates a mono sine wave at freq Hz.
func sine(freq float64, sampleRate int, seconds float64, amp float64) []float64 {
	n := int(seconds * float64(sampleRate))
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
	}
	return out
}

func TestClip_ChannelAndMono(t *testing.T) {
	clip := Clip{
		Samples:    []float64{0.1, 0.3, 0.2, 0.4, 0.3, 0.5},
		SampleRate: 3,
		Channels:   2,
	}

	left := clip.Channel(0)
	if len(left) != 3 || left[0] != 0.1 || left[2] != 0.3 {
		t.Errorf("Channel(0) = %v, want [0.1 0.2 0.3]", left)
	}
	if got := clip.Channel(5); got != nil {
		t.Errorf("Channel(5) = %v, want nil", got)
	}

	mono := clip.Mono()
	if len(mono) != 3 {
		t.Fatalf("Mono() length = %d, want 3", len(mono))
	}
	if math.Abs(mono[0]-0.2) > 1e-9 {
		t.Errorf("Mono()[0] = %v, want 0.2", mono[0])
	}

	if d := clip.Duration(); math.Abs(d-1.0) > 1e-9 {
		t.Errorf("Duration() = %v, want 1.0", d)
	}
}

func TestClip_Slice(t *testing.T) {
	clip := Clip{Samples: sine(100, 1000, 2.0, 0.5), SampleRate: 1000, Channels: 1}

	got := clip.Slice(0.5, 1.5)
	if len(got) != 1000 {
		t.Errorf("Slice(0.5, 1.5) length = %d, want 1000", len(got))
	}

	// Out-of-range windows clamp instead of panicking.
	if got := clip.Slice(1.9, 5.0); len(got) != 100 {
		t.Errorf("clamped slice length = %d, want 100", len(got))
	}
	if got := clip.Slice(3.0, 4.0); got != nil {
		t.Errorf("fully out-of-range slice = %v, want nil", got)
	}
}

func TestDecodePCM16(t *testing.T) {
	// Two samples: 16384 (0.5) and -16384 (-0.5), little endian.
	pcm := []byte{0x00, 0x40, 0x00, 0xC0}
	clip := DecodePCM16(pcm, 16000, 1)

	if len(clip.Samples) != 2 {
		t.Fatalf("decoded %d samples, want 2", len(clip.Samples))
	}
	if math.Abs(clip.Samples[0]-0.5) > 1e-3 {
		t.Errorf("sample[0] = %v, want 0.5", clip.Samples[0])
	}
	if math.Abs(clip.Samples[1]+0.5) > 1e-3 {
		t.Errorf("sample[1] = %v, want -0.5", clip.Samples[1])
	}
}

func TestResampleMono(t *testing.T) {
	src := sine(100, 8000, 1.0, 0.8)

	down := ResampleMono(src, 8000, 4000)
	if len(down) != 4000 {
		t.Errorf("downsampled length = %d, want 4000", len(down))
	}

	same := ResampleMono(src, 8000, 8000)
	if len(same) != len(src) {
		t.Errorf("same-rate resample changed length: %d != %d", len(same), len(src))
	}
}

func TestWindows(t *testing.T) {
	samples := make([]float64, 1600) // 100ms at 16kHz
	wins := Windows(samples, 16000, 0.025, 0.010)

	if len(wins) == 0 {
		t.Fatal("expected windows, got none")
	}
	for i, w := range wins {
		if len(w.Samples) != 400 {
			t.Fatalf("window %d size = %d, want 400", i, len(w.Samples))
		}
	}
	// Hop spacing is 10ms.
	if math.Abs(wins[1].Start-wins[0].Start-0.010) > 1e-9 {
		t.Errorf("hop = %v, want 0.010", wins[1].Start-wins[0].Start)
	}

	if got := Windows(samples[:10], 16000, 0.025, 0.010); got != nil {
		t.Errorf("short input should yield no windows, got %d", len(got))
	}
}

func TestRMS(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}
	// A full-scale square wave has RMS 1.
	got := RMS([]float64{1, -1, 1, -1})
	if math.Abs(got-1) > 1e-9 {
		t.Errorf("RMS(square) = %v, want 1", got)
	}
}

func TestFundamentalFreq(t *testing.T) {
	const rate = 8000

	t.Run("detects sine pitch", func(t *testing.T) {
		f0, voiced := FundamentalFreq(sine(150, rate, 0.1, 0.6), rate)
		if !voiced {
			t.Fatal("expected voiced window")
		}
		if math.Abs(f0-150) > 10 {
			t.Errorf("F0 = %v, want ≈150", f0)
		}
	})

	t.Run("silence is unvoiced", func(t *testing.T) {
		if _, voiced := FundamentalFreq(make([]float64, 800), rate); voiced {
			t.Error("silence reported as voiced")
		}
	})

	t.Run("too-short window is unvoiced", func(t *testing.T) {
		if _, voiced := FundamentalFreq(sine(150, rate, 0.005, 0.6), rate); voiced {
			t.Error("short window reported as voiced")
		}
	})
}

func TestMeasureBands(t *testing.T) {
	const rate = 16000

	low := MeasureBands(sine(130, rate, 0.1, 0.6), rate)
	if low.Low < low.Mid || low.Low < low.High {
		t.Errorf("130Hz tone should dominate the low band: %+v", low)
	}

	high := MeasureBands(sine(3000, rate, 0.1, 0.6), rate)
	if high.High < high.Low {
		t.Errorf("3kHz tone should dominate the high band: %+v", high)
	}

	zero := MeasureBands(make([]float64, 1600), rate)
	if zero.Low != 0 || zero.Mid != 0 || zero.High != 0 {
		t.Errorf("silence should measure zero bands: %+v", zero)
	}
}
