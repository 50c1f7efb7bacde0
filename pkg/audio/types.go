// Package audio provides the PCM helpers used by the acoustic overlap
// corroboration path: clip decoding, channel extraction, short-window
// iteration, and the spectral measurements (band energy, fundamental
// frequency) that distinguish one voice from several.
//
// Everything here is pure computation over in-memory samples. No capture,
// playback, or codec handling belongs to this package.
package audio

// Clip holds raw audio samples handed to the analysis pipeline by the
// upstream recording collaborator. Samples are interleaved when Channels > 1
// and normalised to [-1, 1].
type Clip struct {
	// Samples is the interleaved sample data.
	Samples []float64

	// SampleRate in Hz (e.g. 16000 for ASR-grade audio, 48000 for raw capture).
	SampleRate int

	// Channels is the number of interleaved channels (1 = mono, 2 = stereo).
	Channels int
}

// Duration returns the clip length in seconds.
func (c Clip) Duration() float64 {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate*c.Channels)
}

// FrameCount returns the number of per-channel sample frames.
func (c Clip) FrameCount() int {
	if c.Channels <= 0 {
		return 0
	}
	return len(c.Samples) / c.Channels
}

// Channel extracts a single channel as a contiguous sample slice.
// Returns nil when idx is out of range.
func (c Clip) Channel(idx int) []float64 {
	if idx < 0 || idx >= c.Channels {
		return nil
	}
	frames := c.FrameCount()
	out := make([]float64, frames)
	for i := range frames {
		out[i] = c.Samples[i*c.Channels+idx]
	}
	return out
}

// Mono returns a single-channel view of the clip: channel 0 for mono clips,
// the per-frame channel average otherwise.
func (c Clip) Mono() []float64 {
	if c.Channels == 1 {
		return c.Samples
	}
	frames := c.FrameCount()
	out := make([]float64, frames)
	for i := range frames {
		sum := 0.0
		for ch := range c.Channels {
			sum += c.Samples[i*c.Channels+ch]
		}
		out[i] = sum / float64(c.Channels)
	}
	return out
}

// Slice returns the mono samples between start and end (seconds from clip
// start), clamped to the clip bounds.
func (c Clip) Slice(start, end float64) []float64 {
	mono := c.Mono()
	lo := int(start * float64(c.SampleRate))
	hi := int(end * float64(c.SampleRate))
	if lo < 0 {
		lo = 0
	}
	if hi > len(mono) {
		hi = len(mono)
	}
	if lo >= hi {
		return nil
	}
	return mono[lo:hi]
}
