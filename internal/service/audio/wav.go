package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var ErrNotWAV = errors.New("audio: not a PCM WAV stream")

// WAVHeader is the parsed header of a PCM WAV stream.
type WAVHeader struct {
	Format   Format
	DataSize uint32
}

// ReadWAVHeader consumes the RIFF header of r up to the start of the data
// chunk. Chunks other than "fmt " and "data" are skipped.
func ReadWAVHeader(r io.Reader) (WAVHeader, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return WAVHeader{}, fmt.Errorf("%w: %v", ErrNotWAV, err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return WAVHeader{}, ErrNotWAV
	}

	var h WAVHeader
	var haveFmt bool
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			return WAVHeader{}, fmt.Errorf("%w: missing data chunk", ErrNotWAV)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return WAVHeader{}, fmt.Errorf("%w: short fmt chunk", ErrNotWAV)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return WAVHeader{}, fmt.Errorf("%w: %v", ErrNotWAV, err)
			}
			if tag := binary.LittleEndian.Uint16(body[0:2]); tag != 1 {
				return WAVHeader{}, fmt.Errorf("%w: format tag %d", ErrNotWAV, tag)
			}
			h.Format = Format{
				Channels:   int(binary.LittleEndian.Uint16(body[2:4])),
				SampleRate: int(binary.LittleEndian.Uint32(body[4:8])),
				BitDepth:   int(binary.LittleEndian.Uint16(body[14:16])),
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return WAVHeader{}, fmt.Errorf("%w: data before fmt", ErrNotWAV)
			}
			h.DataSize = size
			return h, nil
		default:
			if _, err := io.CopyN(io.Discard, r, int64(size+size%2)); err != nil {
				return WAVHeader{}, fmt.Errorf("%w: %v", ErrNotWAV, err)
			}
		}
	}
}

// WriteWAVHeader writes a canonical 44-byte PCM header.
func WriteWAVHeader(w io.Writer, f Format, dataSize uint32) error {
	var b [44]byte
	copy(b[0:4], "RIFF")
	binary.LittleEndian.PutUint32(b[4:8], 36+dataSize)
	copy(b[8:12], "WAVE")
	copy(b[12:16], "fmt ")
	binary.LittleEndian.PutUint32(b[16:20], 16)
	binary.LittleEndian.PutUint16(b[20:22], 1)
	binary.LittleEndian.PutUint16(b[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(b[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(b[28:32], uint32(f.BytesPerSecond()))
	binary.LittleEndian.PutUint16(b[32:34], uint16(f.FrameSize()))
	binary.LittleEndian.PutUint16(b[34:36], uint16(f.BitDepth))
	copy(b[36:40], "data")
	binary.LittleEndian.PutUint32(b[40:44], dataSize)
	_, err := w.Write(b[:])
	return err
}
