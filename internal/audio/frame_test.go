package audio

import "testing"

func TestParseFrameRejectsShort(t *testing.T) {
	_, _, _, err := ParseFrame(make([]byte, 9))
	if err == nil {
		t.Fatal("expected error for frame shorter than 10 bytes")
	}
}

func TestParseFrameExactHeader(t *testing.T) {
	header := []byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	pcm := make([]byte, 320) // 160 silence samples
	data := append(append([]byte{}, header...), pcm...)

	ts, flags, gotPCM, err := ParseFrame(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts != 1 {
		t.Fatalf("expected timestamp 1, got %d", ts)
	}
	if flags != 0 {
		t.Fatalf("expected flags 0, got %d", flags)
	}
	if len(gotPCM) != 320 {
		t.Fatalf("expected 320 bytes of PCM, got %d", len(gotPCM))
	}

	v := NewVAD(DefaultVADConfig())
	if v.Detect(gotPCM) {
		t.Fatal("expected silence to be unvoiced")
	}
}
