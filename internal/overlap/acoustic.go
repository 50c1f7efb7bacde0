package overlap

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"github.com/consonance-ai/consonance/pkg/audio"
	"github.com/consonance-ai/consonance/pkg/types"
)

// Acoustic analysis parameters. The 100 ms window / 50 ms hop pair matches
// the shortest overlap the temporal detector reports.
const (
	acousticWindowSec = 0.1
	acousticHopSec    = 0.05

	// acousticSampleRate is the rate all clips are normalised to before
	// spectral measurement, so the F0 and band thresholds below hold for
	// any capture rate.
	acousticSampleRate = 16000

	// f0SeparationRatio is the minimum relative distance between two
	// fundamental-frequency tracks to count them as distinct voices.
	f0SeparationRatio = 0.15

	// corroboratedBoost and uncorroboratedScale adjust overlap confidence
	// after the acoustic check.
	corroboratedBoost   = 0.2
	uncorroboratedScale = 0.6
)

// AnalyzeWithAudio runs the temporal detection pass and then corroborates
// each overlap against the raw audio: an overlap window that shows two or
// more distinct fundamental-frequency tracks gains confidence, one that
// shows a single voice loses it.
//
// This path is CPU-heavy and must never run on the real-time path. It
// degrades gracefully: absent or unusable audio returns the purely temporal
// result unchanged, and any numerical failure in the best-effort source
// separation is swallowed.
func (d *Detector) AnalyzeWithAudio(ctx context.Context, segments []types.Segment, clip audio.Clip, conversationDuration float64) *Analysis {
	analysis := d.AnalyzeOverlaps(segments, conversationDuration)
	if len(clip.Samples) == 0 || clip.SampleRate <= 0 {
		slog.Debug("overlap: no audio available, keeping temporal-only classification")
		return analysis
	}

	mono := clip.Mono()
	if clip.SampleRate != acousticSampleRate {
		mono = audio.ResampleMono(mono, clip.SampleRate, acousticSampleRate)
	}
	clip = audio.Clip{Samples: mono, SampleRate: acousticSampleRate, Channels: 1}

	for i := range analysis.Overlaps {
		if ctx.Err() != nil {
			slog.Warn("overlap: acoustic corroboration cancelled, remaining overlaps keep temporal confidence")
			break
		}
		ov := &analysis.Overlaps[i]

		samples := clip.Slice(ov.Start, ov.End)
		voices := countDistinctVoices(samples, clip.SampleRate)
		if voices < 0 {
			// Window too short or unvoiced throughout; no evidence either way.
			continue
		}

		if voices >= 2 {
			ov.Confidence = math.Min(1, ov.Confidence+corroboratedBoost)
			continue
		}

		// Single F0 track: before downgrading, try a best-effort source
		// separation in case the two voices share a pitch range.
		if quality, err := separationQuality(samples); err == nil && quality > 0.5 {
			ov.Confidence = math.Min(1, ov.Confidence+corroboratedBoost/2)
			continue
		}
		ov.Confidence *= uncorroboratedScale
	}
	return analysis
}

// countDistinctVoices estimates how many distinct fundamental-frequency
// tracks are present in the samples. Returns -1 when no window was voiced,
// meaning there is no acoustic evidence to act on.
func countDistinctVoices(samples []float64, sampleRate int) int {
	wins := audio.Windows(samples, sampleRate, acousticWindowSec, acousticHopSec)
	if len(wins) == 0 {
		return -1
	}

	var tracks []float64
	voiced := 0
	for _, w := range wins {
		// Skip windows dominated by background noise.
		bands := audio.MeasureBands(w.Samples, sampleRate)
		if bands.Low+bands.Mid < 0.5 {
			continue
		}
		f0, ok := audio.FundamentalFreq(w.Samples, sampleRate)
		if !ok {
			continue
		}
		voiced++

		matched := false
		for i, t := range tracks {
			if math.Abs(f0-t)/t < f0SeparationRatio {
				// Update the track with a running blend so drifting pitch
				// follows the speaker.
				tracks[i] = (t + f0) / 2
				matched = true
				break
			}
		}
		if !matched {
			tracks = append(tracks, f0)
		}
	}

	if voiced == 0 {
		return -1
	}
	return len(tracks)
}

// separationQuality attempts a two-source blind separation over time-shifted
// observations of the mono mix and reports how independent the recovered
// components are (0 = identical, 1 = fully independent). This is a
// signal-quality heuristic only; the separated signals are discarded.
func separationQuality(samples []float64) (float64, error) {
	const shift = 40 // observation lag in samples

	if len(samples) < shift*4 {
		return 0, errors.New("overlap: separation window too short")
	}

	// Two observations: the mix and a time-shifted copy.
	n := len(samples) - shift
	x1 := samples[:n]
	x2 := samples[shift:]

	// Centre both observations.
	m1, m2 := mean(x1), mean(x2)
	c1 := make([]float64, n)
	c2 := make([]float64, n)
	for i := range n {
		c1[i] = x1[i] - m1
		c2[i] = x2[i] - m2
	}

	v1, v2 := variance(c1), variance(c2)
	if v1 == 0 || v2 == 0 {
		return 0, errors.New("overlap: degenerate observation (zero variance)")
	}

	// One deflation step of a kurtosis-seeking rotation: find the angle
	// that maximises non-Gaussianity of the first component, then measure
	// the residual correlation of the two rotated components.
	bestAngle, bestKurt := 0.0, math.Inf(-1)
	for deg := 0; deg < 180; deg += 5 {
		angle := float64(deg) * math.Pi / 180
		k := rotatedKurtosis(c1, c2, angle)
		if math.IsNaN(k) || math.IsInf(k, 0) {
			return 0, errors.New("overlap: separation did not converge")
		}
		if k > bestKurt {
			bestKurt = k
			bestAngle = angle
		}
	}

	cosA, sinA := math.Cos(bestAngle), math.Sin(bestAngle)
	s1 := make([]float64, n)
	s2 := make([]float64, n)
	for i := range n {
		s1[i] = cosA*c1[i] + sinA*c2[i]
		s2[i] = -sinA*c1[i] + cosA*c2[i]
	}

	corr := correlation(s1, s2)
	if math.IsNaN(corr) {
		return 0, errors.New("overlap: separation produced degenerate components")
	}
	return 1 - math.Abs(corr), nil
}

// rotatedKurtosis returns the excess kurtosis of cos(a)·x1 + sin(a)·x2.
func rotatedKurtosis(x1, x2 []float64, angle float64) float64 {
	cosA, sinA := math.Cos(angle), math.Sin(angle)
	var sum2, sum4 float64
	for i := range x1 {
		v := cosA*x1[i] + sinA*x2[i]
		v2 := v * v
		sum2 += v2
		sum4 += v2 * v2
	}
	n := float64(len(x1))
	varV := sum2 / n
	if varV == 0 {
		return math.NaN()
	}
	return sum4/(n*varV*varV) - 3
}

func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func variance(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x * x
	}
	return sum / float64(len(xs))
}

// correlation returns the Pearson correlation of two centred series.
func correlation(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return math.NaN()
	}
	return dot / math.Sqrt(na*nb)
}
