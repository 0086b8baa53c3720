package models

import "time"

// ChunkEncoding tags how a chunk's byte payload was turned into text.
// Rows written before the tag existed carry an empty encoding and are
// decoded by sniffing.
type ChunkEncoding string

const (
	EncodingBase64  ChunkEncoding = "base64"
	EncodingHex     ChunkEncoding = "hex"
	EncodingUnknown ChunkEncoding = ""
)

// VoiceChunk is one fixed-size slice of a voice recording. The full
// audio is the concatenation of a message's chunks by ascending Seq.
type VoiceChunk struct {
	MessageID string        `db:"message_id" json:"message_id"`
	Seq       int           `db:"seq" json:"seq"`
	Payload   string        `db:"payload" json:"payload"`
	Size      int           `db:"size" json:"size"`
	Encoding  ChunkEncoding `db:"encoding" json:"encoding"`
}

// VoiceSession is an in-progress chunked upload.
type VoiceSession struct {
	Token          string    `db:"token" json:"token"`
	ConversationID string    `db:"conversation_id" json:"conversation_id"`
	SenderID       int       `db:"sender_id" json:"sender_id"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
