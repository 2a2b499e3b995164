package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/kennyrkun/dispatcher/core"
	"github.com/zaf/g711"
)

// PCM constants
const (
	pcmMax = 32767  // Max 16-bit PCM value
	pcmMin = -32768 // Min 16-bit PCM value
)

// Pool for WAV header buffers (typically 44-46 bytes)
var wavHeaderPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 64))
	},
}

func getWavHeaderBuffer() *bytes.Buffer {
	return wavHeaderPool.Get().(*bytes.Buffer)
}

func putWavHeaderBuffer(buf *bytes.Buffer) {
	buf.Reset()
	wavHeaderPool.Put(buf)
}

// PCMBytesToULaw converts PCM bytes to µ-law
func PCMBytesToULaw(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, errors.New("PCM byte slice length must be even (16-bit samples)")
	}
	return g711.EncodeUlaw(pcm), nil
}

// ULawBytesToPCM converts µ-law bytes to PCM bytes
func ULawBytesToPCM(uBytes []byte) []byte {
	return g711.DecodeUlaw(uBytes)
}

// ALawBytesToPCM converts A-law bytes to PCM bytes
func ALawBytesToPCM(aBytes []byte) []byte {
	return g711.DecodeAlaw(aBytes)
}

// SamplesToBytes packs samples as 16-bit little endian.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToSamples unpacks 16-bit little endian PCM. A trailing odd byte is
// ignored.
func BytesToSamples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// PCMBytesToWavBytes wraps PCM []byte into WAV []byte (16-bit little endian)
func PCMBytesToWavBytes(pcm []byte, numChannels, sampleRate int) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, errors.New("PCM data is empty")
	}
	if numChannels <= 0 || numChannels > 2 {
		return nil, errors.New("only mono (1) or stereo (2) channels supported")
	}
	if sampleRate <= 0 {
		return nil, errors.New("sample rate must be positive")
	}
	if len(pcm)%(2*numChannels) != 0 {
		return nil, errors.New("PCM data length doesn't match channel count")
	}

	buf := getWavHeaderBuffer()
	defer putWavHeaderBuffer(buf)

	const (
		bitsPerSample  = 16
		audioFormatPCM = 1
		subchunk1Size  = 16
	)

	blockAlign := numChannels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign
	dataSize := len(pcm)
	fileSize := 36 + dataSize

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(fileSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(subchunk1Size))
	binary.Write(buf, binary.LittleEndian, uint16(audioFormatPCM))
	binary.Write(buf, binary.LittleEndian, uint16(numChannels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataSize))

	result := make([]byte, buf.Len()+len(pcm))
	copy(result, buf.Bytes())
	copy(result[buf.Len():], pcm)

	return result, nil
}

// ValidatePCMData checks that pcm holds whole 16-bit frames for the given
// channel count.
func ValidatePCMData(pcm []byte, numChannels int) error {
	switch {
	case numChannels <= 0:
		return fmt.Errorf("invalid channel count %d", numChannels)
	case len(pcm) == 0:
		return errors.New("no PCM samples")
	case len(pcm)%(2*numChannels) != 0:
		return fmt.Errorf("%d PCM bytes is not a whole number of %d-channel 16-bit frames", len(pcm), numChannels)
	}
	return nil
}

// WAVFormat is what the fmt chunk of a 16-bit PCM WAV file declares.
type WAVFormat struct {
	Channels   int
	SampleRate int
	Bits       int
}

// ParseWAVHeader reads the fmt chunk and returns the format together with
// the byte offset where sample data begins. Only linear PCM is accepted.
func ParseWAVHeader(head []byte) (WAVFormat, int, error) {
	var f WAVFormat
	if len(head) < 12 || !bytes.HasPrefix(head, []byte("RIFF")) || !bytes.Equal(head[8:12], []byte("WAVE")) {
		return f, 0, errors.New("invalid WAV: missing RIFF/WAVE header")
	}

	i := 12
	for i+8 <= len(head) {
		chunkID := string(head[i : i+4])
		chunkSize := int(binary.LittleEndian.Uint32(head[i+4 : i+8]))
		body := i + 8

		switch chunkID {
		case "fmt ":
			if body+16 > len(head) {
				return f, 0, errors.New("invalid WAV: truncated fmt chunk")
			}
			if format := binary.LittleEndian.Uint16(head[body:]); format != 1 {
				return f, 0, fmt.Errorf("unsupported WAV encoding %d (want PCM)", format)
			}
			f.Channels = int(binary.LittleEndian.Uint16(head[body+2:]))
			f.SampleRate = int(binary.LittleEndian.Uint32(head[body+4:]))
			f.Bits = int(binary.LittleEndian.Uint16(head[body+14:]))
		case "data":
			if f.SampleRate == 0 {
				return f, 0, errors.New("invalid WAV: data before fmt")
			}
			if f.Bits != 16 {
				return f, 0, fmt.Errorf("unsupported WAV sample width %d bits", f.Bits)
			}
			return f, body, nil
		}

		next := body + chunkSize
		if chunkSize%2 != 0 {
			next++
		}
		i = next
	}
	return f, 0, errors.New("invalid WAV: data chunk not found")
}

// StripWAVHeaderIfPresent returns raw PCM bytes if input starts with a RIFF/WAVE header.
// If the input is not a WAV file, it returns the input unchanged.
func StripWAVHeaderIfPresent(chunk []byte) ([]byte, error) {
	if len(chunk) < 12 {
		return chunk, nil
	}
	if !bytes.HasPrefix(chunk, []byte("RIFF")) || !bytes.Equal(chunk[8:12], []byte("WAVE")) {
		return chunk, nil
	}

	i := 12
	for i+8 <= len(chunk) {
		chunkID := string(chunk[i : i+4])
		chunkSize := binary.LittleEndian.Uint32(chunk[i+4 : i+8])
		next := i + 8 + int(chunkSize)

		if chunkID == "data" {
			if next > len(chunk) {
				return nil, errors.New("invalid WAV: data chunk exceeds buffer length")
			}
			return chunk[i+8 : next], nil
		}

		if chunkSize%2 != 0 {
			next++
		}
		if next > len(chunk) {
			break
		}
		i = next
	}

	return nil, errors.New("invalid WAV: data chunk not found")
}

// ConvertAudioChunk decodes G.711 to PCM and folds stereo to mono so the
// result can be handed to a raw PCM player. Container audio passes through.
func ConvertAudioChunk(input core.AudioChunk, targetChannels int) (core.AudioChunk, error) {
	switch input.Format {
	case core.Container:
		return input, nil
	case core.ULAW:
		input.Data = ULawBytesToPCM(input.Data)
		input.Format = core.PCM
	case core.ALAW:
		input.Data = ALawBytesToPCM(input.Data)
		input.Format = core.PCM
	}

	if input.Channels == 0 {
		input.Channels = 1
	}
	if input.Channels != targetChannels {
		pcm, err := convertChannels(input.Data, input.Channels, targetChannels)
		if err != nil {
			return core.AudioChunk{}, err
		}
		input.Data = pcm
		input.Channels = targetChannels
	}
	return input, nil
}

func convertChannels(pcm []byte, fromChannels, toChannels int) ([]byte, error) {
	if fromChannels == toChannels {
		return pcm, nil
	}
	if fromChannels == 1 && toChannels == 2 {
		return monoToStereo(pcm), nil
	}
	if fromChannels == 2 && toChannels == 1 {
		return stereoToMono(pcm), nil
	}
	return nil, fmt.Errorf("unsupported channel conversion: %d to %d", fromChannels, toChannels)
}

func monoToStereo(monoPCM []byte) []byte {
	samples := len(monoPCM) / 2
	result := make([]byte, samples*4)
	for i := 0; i < samples; i++ {
		result[i*4] = monoPCM[i*2]
		result[i*4+1] = monoPCM[i*2+1]
		result[i*4+2] = monoPCM[i*2]
		result[i*4+3] = monoPCM[i*2+1]
	}
	return result
}

func stereoToMono(stereoPCM []byte) []byte {
	samples := len(stereoPCM) / 4
	result := make([]byte, samples*2)
	for i := range samples {
		left := int16(binary.LittleEndian.Uint16(stereoPCM[i*4 : i*4+2]))
		right := int16(binary.LittleEndian.Uint16(stereoPCM[i*4+2 : i*4+4]))
		mono := (int(left) + int(right)) / 2
		binary.LittleEndian.PutUint16(result[i*2:], uint16(int16(mono)))
	}
	return result
}
