package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"mime"
	"strings"
)

// ErrInvalidWAV is returned by DecodeWAV for malformed or non-PCM16 input.
var ErrInvalidWAV = errors.New("audio: invalid wav")

// EncodeWAV wraps raw 16-bit little-endian PCM in a RIFF/WAV container.
func EncodeWAV(pcm []byte, f Format) []byte {
	const bitsPerSample = 16
	byteRate := f.SampleRate * f.Channels * bitsPerSample / 8
	blockAlign := f.Channels * bitsPerSample / 8
	size := len(pcm)

	buf := make([]byte, 44+size)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+size))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(size))
	copy(buf[44:], pcm)

	return buf
}

// DecodeWAV extracts the PCM payload and format of a 16-bit PCM WAV file.
// Unknown chunks (LIST, fact, ...) are skipped.
func DecodeWAV(data []byte) ([]byte, Format, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, Format{}, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWAV)
	}

	var (
		f       Format
		haveFmt bool
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		end := body + size
		// Streaming encoders write 0 or 0xFFFFFFFF for the data size.
		if id == "data" && (end > len(data) || size == 0) {
			end = len(data)
		}
		if end > len(data) {
			return nil, Format{}, fmt.Errorf("%w: truncated %q chunk", ErrInvalidWAV, id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, Format{}, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}
			if tag := binary.LittleEndian.Uint16(data[body:]); tag != 1 {
				return nil, Format{}, fmt.Errorf("%w: format tag %d is not PCM", ErrInvalidWAV, tag)
			}
			if bits := binary.LittleEndian.Uint16(data[body+14:]); bits != 16 {
				return nil, Format{}, fmt.Errorf("%w: %d bits per sample", ErrInvalidWAV, bits)
			}
			f.Channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			f.SampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, Format{}, fmt.Errorf("%w: data before fmt", ErrInvalidWAV)
			}
			return data[body:end], f, nil
		}

		off = end + size%2 // chunks are word aligned
	}
	return nil, Format{}, fmt.Errorf("%w: no data chunk", ErrInvalidWAV)
}

// DecodeClip turns a synthesized response body into a playable clip. WAV is
// self-describing; raw PCM uses rawFormat. Compressed formats (mp3, opus, aac,
// flac) return ErrUnsupportedFormat.
func DecodeClip(data []byte, contentType string, rawFormat Format) (Clip, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}

	switch mediaType {
	case "audio/wav", "audio/wave", "audio/x-wav":
		pcm, f, err := DecodeWAV(data)
		if err != nil {
			return Clip{}, err
		}
		return Clip{PCM: pcm, SampleRate: f.SampleRate, Channels: f.Channels, Gain: 1}, nil
	case "audio/pcm", "audio/l16":
		return Clip{PCM: data, SampleRate: rawFormat.SampleRate, Channels: rawFormat.Channels, Gain: 1}, nil
	default:
		return Clip{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, contentType)
	}
}
