package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Errors returned by [DecodeWAV].
var (
	// ErrNotWAV indicates the payload does not start with a RIFF/WAVE header.
	ErrNotWAV = errors.New("audio: not a RIFF/WAVE payload")

	// ErrUnsupportedEncoding indicates a WAV encoding other than 16-bit PCM.
	ErrUnsupportedEncoding = errors.New("audio: unsupported WAV encoding (want 16-bit PCM)")
)

const (
	wavFormatPCM      = 1
	wavHeaderOverhead = 44
)

// EncodeWAV wraps raw little-endian int16 PCM in a canonical 44-byte
// RIFF/WAVE header. This is the wire format of the synthesis channel: the
// service replies with one complete WAV clip per request.
func EncodeWAV(pcm []byte, format Format) []byte {
	byteRate := format.SampleRate * format.Channels * 2
	blockAlign := format.Channels * 2

	out := make([]byte, wavHeaderOverhead+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(out[22:24], uint16(format.Channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(format.SampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], 16)

	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[44:], pcm)
	return out
}

// DecodeWAV parses a WAV payload and returns the contained PCM as a
// [Waveform]. Only 16-bit PCM is accepted; any other encoding returns
// [ErrUnsupportedEncoding]. Chunks other than "fmt " and "data" are skipped,
// so payloads with LIST/INFO metadata decode fine.
func DecodeWAV(b []byte) (Waveform, error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return Waveform{}, ErrNotWAV
	}

	var (
		format   Format
		pcm      []byte
		sawFmt   bool
		sawData  bool
		off      = 12
	)
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(b) {
			return Waveform{}, fmt.Errorf("audio: truncated WAV chunk %q: %w", id, ErrNotWAV)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return Waveform{}, fmt.Errorf("audio: short fmt chunk: %w", ErrNotWAV)
			}
			encoding := binary.LittleEndian.Uint16(b[body : body+2])
			bits := binary.LittleEndian.Uint16(b[body+14 : body+16])
			if encoding != wavFormatPCM || bits != 16 {
				return Waveform{}, fmt.Errorf("%w: encoding=%d bits=%d", ErrUnsupportedEncoding, encoding, bits)
			}
			format.Channels = int(binary.LittleEndian.Uint16(b[body+2 : body+4]))
			format.SampleRate = int(binary.LittleEndian.Uint32(b[body+4 : body+8]))
			sawFmt = true
		case "data":
			pcm = b[body : body+size]
			sawData = true
		}

		// Chunks are word-aligned.
		off = body + size + (size & 1)
	}

	if !sawFmt || !sawData {
		return Waveform{}, fmt.Errorf("audio: missing fmt/data chunk: %w", ErrNotWAV)
	}
	if len(pcm)%2 != 0 {
		return Waveform{}, fmt.Errorf("audio: odd PCM byte count %d: %w", len(pcm), ErrNotWAV)
	}
	return Waveform{PCM: pcm, Format: format}, nil
}
