package audio

import "encoding/binary"

// DefaultEnergyThreshold is the normalized mean-amplitude threshold above
// which a chunk counts as voiced.
const DefaultEnergyThreshold = 0.05

// resetInterval is how many processed chunks elapse before the voiced-frame
// counter resets, regardless of what it reached.
const resetInterval = 20

// continuousVoiceRatio is the fraction of resetInterval that the voiced
// counter must exceed for HasContinuousVoice to report true.
const continuousVoiceRatio = 0.3

// maxDetectSamples bounds how many PCM samples of a chunk are inspected per
// Detect call; detection only ever looks at the start of a chunk.
const maxDetectSamples = 50

// VADConfig controls voice activity detection behavior.
type VADConfig struct {
	EnergyThreshold float64
}

// DefaultVADConfig returns the spec's default threshold.
func DefaultVADConfig() VADConfig {
	return VADConfig{EnergyThreshold: DefaultEnergyThreshold}
}

// VAD is a windowed energy-threshold voice activity detector. It samples up
// to the first 50 16-bit PCM samples of each chunk fed to Detect, computes
// their mean absolute amplitude normalized to [0,1], and compares it against
// EnergyThreshold. A rolling count of voiced chunks resets every 20 chunks;
// HasContinuousVoice reports true once that count exceeds 30% of the window.
type VAD struct {
	threshold   float64
	frameCount  int
	voiceFrames int
}

// NewVAD creates a VAD with the given config.
func NewVAD(cfg VADConfig) *VAD {
	threshold := cfg.EnergyThreshold
	if threshold <= 0 {
		threshold = DefaultEnergyThreshold
	}
	return &VAD{threshold: threshold}
}

// Reset zeroes both the frame and voiced-frame counters.
func (v *VAD) Reset() {
	v.frameCount = 0
	v.voiceFrames = 0
}

// Detect reports whether pcm (16-bit signed little-endian mono samples)
// counts as voiced, and advances the rolling window. Chunks shorter than 10
// bytes are never voiced.
func (v *VAD) Detect(pcm []byte) bool {
	if len(pcm) < 10 {
		return false
	}

	v.frameCount++
	if v.frameCount > resetInterval {
		v.Reset()
		v.frameCount = 1
	}

	voiced := isVoiced(pcm, v.threshold)
	if voiced {
		v.voiceFrames++
	}
	return voiced
}

// HasContinuousVoice reports whether enough recent chunks within the current
// window have been voiced to treat the speaker as continuously talking —
// strictly more than 30% of a 20-chunk window, i.e. at least 7 chunks.
func (v *VAD) HasContinuousVoice() bool {
	return float64(v.voiceFrames) > float64(resetInterval)*continuousVoiceRatio
}

func isVoiced(pcm []byte, threshold float64) bool {
	maxSamples := len(pcm) / 2
	if maxSamples > maxDetectSamples {
		maxSamples = maxDetectSamples
	}
	if maxSamples == 0 {
		return false
	}

	var sum float64
	for i := 0; i < maxSamples; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		if s < 0 {
			sum += float64(-s)
		} else {
			sum += float64(s)
		}
	}
	mean := sum / float64(maxSamples)
	normalized := mean / 32768.0
	return normalized > threshold
}
