package voice

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/h2non/filetype"

	"crm-messaging/internal/models"
)

// ChunkSize is the fixed slice size used when storing a recording.
const ChunkSize = 64 * 1024

var (
	ErrNoAudioData = errors.New("no audio data")
)

// Split slices an encoded recording into storage chunks, sequence
// numbered from zero. New writes always carry an explicit base64 tag;
// the sniffing in DecodeChunk exists only for rows written before the
// tag was introduced.
func Split(data []byte) []models.VoiceChunk {
	chunks := make([]models.VoiceChunk, 0, (len(data)+ChunkSize-1)/ChunkSize)
	for seq := 0; seq*ChunkSize < len(data); seq++ {
		start := seq * ChunkSize
		end := start + ChunkSize
		if end > len(data) {
			end = len(data)
		}
		raw := data[start:end]
		chunks = append(chunks, models.VoiceChunk{
			Seq:      seq,
			Payload:  base64.StdEncoding.EncodeToString(raw),
			Size:     len(raw),
			Encoding: models.EncodingBase64,
		})
	}
	return chunks
}

// DecodeChunk turns a chunk's text payload back into bytes. Tagged
// chunks decode directly. Untagged legacy payloads go through a
// sniffing chain that tolerates base64, prefixed hex, bare hex and
// double-encoded hex-of-base64.
func DecodeChunk(c models.VoiceChunk) ([]byte, error) {
	switch c.Encoding {
	case models.EncodingBase64:
		return base64.StdEncoding.DecodeString(c.Payload)
	case models.EncodingHex:
		return hex.DecodeString(strings.TrimPrefix(c.Payload, "0x"))
	default:
		return sniffDecode(c.Payload)
	}
}

func sniffDecode(payload string) ([]byte, error) {
	if strings.HasPrefix(payload, "0x") || strings.HasPrefix(payload, `\x`) {
		decoded, err := hex.DecodeString(payload[2:])
		if err != nil {
			return nil, fmt.Errorf("hex decode: %w", err)
		}
		// Legacy writers sometimes hex-encoded an already base64
		// encoded payload.
		if looksLikeBase64(decoded) {
			if inner, err := base64.StdEncoding.DecodeString(string(decoded)); err == nil {
				return inner, nil
			}
		}
		return decoded, nil
	}

	if looksLikeHex(payload) {
		if decoded, err := hex.DecodeString(payload); err == nil {
			return decoded, nil
		}
		return base64.StdEncoding.DecodeString(payload)
	}

	if decoded, err := base64.StdEncoding.DecodeString(payload); err == nil {
		return decoded, nil
	}
	decoded, err := hex.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("payload is neither base64 nor hex: %w", err)
	}
	return decoded, nil
}

func looksLikeBase64(data []byte) bool {
	if len(data) <= 10 {
		return false
	}
	for _, b := range data {
		if b >= 'A' && b <= 'Z' || b >= 'a' && b <= 'z' || b >= '0' && b <= '9' {
			continue
		}
		if b == '+' || b == '/' || b == '=' {
			continue
		}
		return false
	}
	return true
}

func looksLikeHex(s string) bool {
	if len(s) == 0 || len(s)%2 != 0 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// Reassemble concatenates a message's chunks by ascending sequence into
// the playable buffer. A decode failure aborts reassembly for this
// message only; the container signature check is soft and merely logs.
func Reassemble(chunks []models.VoiceChunk) ([]byte, error) {
	if len(chunks) == 0 {
		return nil, ErrNoAudioData
	}

	sorted := make([]models.VoiceChunk, len(chunks))
	copy(sorted, chunks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	var buf []byte
	for i, c := range sorted {
		if c.Seq != i {
			return nil, fmt.Errorf("failed to process chunk %d: sequence gap", c.Seq)
		}
		decoded, err := DecodeChunk(c)
		if err != nil {
			return nil, fmt.Errorf("failed to process chunk %d: %w", c.Seq, err)
		}
		buf = append(buf, decoded...)
	}

	if len(buf) == 0 {
		return nil, ErrNoAudioData
	}

	if kind, err := filetype.Match(buf); err != nil || (kind.Extension != "webm" && kind.Extension != "ogg") {
		log.Printf("voice: unexpected container signature, attempting playback anyway")
	}
	return buf, nil
}
