package audio

import "testing"

func TestDetectRejectsShortChunks(t *testing.T) {
	v := NewVAD(DefaultVADConfig())
	if v.Detect(make([]byte, 9)) {
		t.Fatal("expected chunks shorter than 10 bytes to never be voiced")
	}
}

func TestDetectAllZeroIsUnvoiced(t *testing.T) {
	v := NewVAD(DefaultVADConfig())
	pcm := samplesToPCM(make([]int16, 160))
	if v.Detect(pcm) {
		t.Fatal("expected all-zero PCM to be unvoiced")
	}
}

func TestDetectSaturatedIsVoiced(t *testing.T) {
	v := NewVAD(DefaultVADConfig())
	samples := make([]int16, 160)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 32767
		} else {
			samples[i] = -32767
		}
	}
	pcm := samplesToPCM(samples)
	if !v.Detect(pcm) {
		t.Fatal("expected saturated PCM to be voiced")
	}
}

func TestHasContinuousVoiceThreshold(t *testing.T) {
	v := NewVAD(DefaultVADConfig())
	voiced := samplesToPCM(func() []int16 {
		s := make([]int16, 160)
		for i := range s {
			s[i] = 32767
		}
		return s
	}())
	silent := samplesToPCM(make([]int16, 160))

	for i := 0; i < 6; i++ {
		v.Detect(voiced)
	}
	if v.HasContinuousVoice() {
		t.Fatal("expected 6 voiced frames out of 20 to not trigger continuous voice")
	}

	v.Detect(voiced)
	if !v.HasContinuousVoice() {
		t.Fatal("expected 7 voiced frames out of 20 to trigger continuous voice")
	}

	_ = silent
}

func TestResetIntervalClearsCounters(t *testing.T) {
	v := NewVAD(DefaultVADConfig())
	voiced := samplesToPCM(func() []int16 {
		s := make([]int16, 160)
		for i := range s {
			s[i] = 32767
		}
		return s
	}())

	for i := 0; i < 21; i++ {
		v.Detect(voiced)
	}
	// Frame 21 triggers a reset before counting itself, so the window holds
	// exactly one voiced frame at this point.
	if v.HasContinuousVoice() {
		t.Fatal("expected counters to have reset by the 21st frame")
	}
}
