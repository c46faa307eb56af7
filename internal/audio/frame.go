package audio

import (
	"encoding/binary"
	"fmt"
)

// minFrameLen is the smallest accepted inbound audio frame: an 8-byte header
// plus at least one 16-bit PCM sample.
const minFrameLen = 10

// ParseFrame decodes an inbound binary audio frame: 4 bytes little-endian
// timestamp, 4 bytes little-endian status flags (reserved), then 16-bit
// signed little-endian PCM mono 16kHz samples. Frames shorter than 10 bytes
// are rejected.
func ParseFrame(data []byte) (timestamp, flags uint32, pcm []byte, err error) {
	if len(data) < minFrameLen {
		return 0, 0, nil, fmt.Errorf("audio frame too short: %d bytes", len(data))
	}
	timestamp = binary.LittleEndian.Uint32(data[0:4])
	flags = binary.LittleEndian.Uint32(data[4:8])
	pcm = data[8:]
	return timestamp, flags, pcm, nil
}
