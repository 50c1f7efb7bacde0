package audio

import (
	"math"
	"sort"
)

// Window is one short analysis window over a mono sample stream.
type Window struct {
	// Start is the window offset in seconds from clip start.
	Start float64

	// Samples is the windowed slice (shared with the source, do not mutate).
	Samples []float64
}

// Windows slices mono samples into fixed-size windows with the given hop.
// windowSec and hopSec are in seconds; trailing samples that do not fill a
// whole window are dropped.
func Windows(samples []float64, sampleRate int, windowSec, hopSec float64) []Window {
	if sampleRate <= 0 || windowSec <= 0 || hopSec <= 0 {
		return nil
	}
	size := int(windowSec * float64(sampleRate))
	hop := int(hopSec * float64(sampleRate))
	if size == 0 || hop == 0 || len(samples) < size {
		return nil
	}

	var out []Window
	for off := 0; off+size <= len(samples); off += hop {
		out = append(out, Window{
			Start:   float64(off) / float64(sampleRate),
			Samples: samples[off : off+size],
		})
	}
	return out
}

// RMS returns the root-mean-square level of the samples, 0 for empty input.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// NoiseFloor estimates the background level as the 10th percentile of
// per-window RMS values, the same trough-based approach used for adaptive
// silence thresholds. Returns 0 when fewer than two windows are available.
func NoiseFloor(windows []Window) float64 {
	if len(windows) < 2 {
		return 0
	}
	levels := make([]float64, len(windows))
	for i, w := range windows {
		levels[i] = RMS(w.Samples)
	}
	sort.Float64s(levels)
	return levels[len(levels)/10]
}

// goertzel computes the signal power at targetHz using the Goertzel
// single-bin DFT recurrence. Much cheaper than a full FFT when only a
// handful of bins are needed.
func goertzel(samples []float64, sampleRate int, targetHz float64) float64 {
	n := len(samples)
	if n == 0 || sampleRate <= 0 {
		return 0
	}
	k := 0.5 + float64(n)*targetHz/float64(sampleRate)
	omega := 2 * math.Pi * math.Floor(k) / float64(n)
	coeff := 2 * math.Cos(omega)

	var s0, s1, s2 float64
	for _, x := range samples {
		s0 = x + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}
	return s1*s1 + s2*s2 - coeff*s1*s2
}

// BandEnergy holds relative signal energy in the three coarse voice bands.
// Values are normalised so Low+Mid+High = 1 for non-silent windows.
type BandEnergy struct {
	// Low covers 80–300 Hz: fundamental frequencies of most adult voices.
	Low float64

	// Mid covers 300–2000 Hz: the first formants, where vowel energy lives.
	Mid float64

	// High covers 2000–5000 Hz: fricatives and consonant detail.
	High float64
}

// bandBins are the probe frequencies sampled per band. A sparse probe grid
// keeps the Goertzel cost low while still separating voiced energy from
// broadband noise.
var bandBins = struct{ low, mid, high []float64 }{
	low:  []float64{90, 130, 180, 240},
	mid:  []float64{350, 600, 1000, 1600},
	high: []float64{2200, 3000, 4000, 4800},
}

// MeasureBands probes the three voice bands and returns their relative
// energies. Returns a zero value for silent or empty windows.
func MeasureBands(samples []float64, sampleRate int) BandEnergy {
	sumBins := func(bins []float64) float64 {
		total := 0.0
		for _, hz := range bins {
			if hz < float64(sampleRate)/2 {
				total += goertzel(samples, sampleRate, hz)
			}
		}
		return total
	}

	low := sumBins(bandBins.low)
	mid := sumBins(bandBins.mid)
	high := sumBins(bandBins.high)
	total := low + mid + high
	if total == 0 {
		return BandEnergy{}
	}
	return BandEnergy{Low: low / total, Mid: mid / total, High: high / total}
}

// F0 bounds for adult speech. Pitch candidates outside this range are
// treated as unvoiced.
const (
	minF0 = 60.0
	maxF0 = 400.0
)

// FundamentalFreq estimates the fundamental frequency of a window by
// normalised autocorrelation peak picking. Returns (0, false) when the
// window is unvoiced or too short for a reliable estimate.
func FundamentalFreq(samples []float64, sampleRate int) (float64, bool) {
	if sampleRate <= 0 {
		return 0, false
	}
	minLag := int(float64(sampleRate) / maxF0)
	maxLag := int(float64(sampleRate) / minF0)
	if minLag < 1 || maxLag >= len(samples) {
		return 0, false
	}

	energy := 0.0
	for _, s := range samples {
		energy += s * s
	}
	if energy == 0 {
		return 0, false
	}

	bestLag, bestCorr := 0, 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		corr := 0.0
		for i := 0; i+lag < len(samples); i++ {
			corr += samples[i] * samples[i+lag]
		}
		corr /= energy
		if corr > bestCorr {
			bestCorr = corr
			bestLag = lag
		}
	}

	// A voiced window correlates strongly with itself one period later.
	// 0.45 keeps breathy speech while rejecting broadband noise.
	if bestLag == 0 || bestCorr < 0.45 {
		return 0, false
	}
	return float64(sampleRate) / float64(bestLag), true
}
