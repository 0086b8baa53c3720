package voice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crm-messaging/internal/models"
)

// DurationProber extracts the true duration from an encoded recording,
// typically by loading it into a decoder.
type DurationProber interface {
	Duration(ctx context.Context, data []byte) (time.Duration, error)
}

// UploadStore is the durable-write collaborator for chunked voice uploads.
type UploadStore interface {
	CreateVoiceSession(ctx context.Context, conversationID string, senderID int) (string, error)
	UploadVoiceChunk(ctx context.Context, token string, chunk models.VoiceChunk) error
	FinalizeVoiceSession(ctx context.Context, token string, duration time.Duration, waveform []float64) (models.Message, error)
	CancelVoiceSession(ctx context.Context, token string) error
}

// ErrRecorderBusy is returned when a recording is already in progress.
var ErrRecorderBusy = errors.New("recording already in progress")

const probeTimeout = 2 * time.Second

// Recorder drives one voice recording from capture to finalized upload.
// Not safe for concurrent use; it lives on the client event loop.
type Recorder struct {
	store  UploadStore
	prober DurationProber
	now    func() time.Time

	token     string
	startedAt time.Time
	recording bool
}

// NewRecorder builds a Recorder. prober may be nil, in which case the
// wall-clock fallback is always used.
func NewRecorder(store UploadStore, prober DurationProber) *Recorder {
	return &Recorder{store: store, prober: prober, now: time.Now}
}

// Start opens an upload session and marks the wall-clock start.
func (r *Recorder) Start(ctx context.Context, conversationID string, senderID int) error {
	if r.recording {
		return ErrRecorderBusy
	}
	token, err := r.store.CreateVoiceSession(ctx, conversationID, senderID)
	if err != nil {
		return fmt.Errorf("create voice session: %w", err)
	}
	r.token = token
	r.startedAt = r.now()
	r.recording = true
	return nil
}

// Finish chunks the captured blob, uploads every chunk and finalizes the
// session with the probed (or wall-clock) duration and the waveform.
func (r *Recorder) Finish(ctx context.Context, data []byte, samples []float64) (models.Message, error) {
	if !r.recording {
		return models.Message{}, errors.New("no recording in progress")
	}
	r.recording = false

	if len(data) == 0 {
		_ = r.store.CancelVoiceSession(ctx, r.token)
		return models.Message{}, ErrNoAudioData
	}

	duration := r.probeDuration(ctx, data)

	waveform := Waveform(samples)
	if len(samples) == 0 {
		waveform = FallbackWaveform()
	}

	for _, chunk := range Split(data) {
		if err := r.store.UploadVoiceChunk(ctx, r.token, chunk); err != nil {
			return models.Message{}, fmt.Errorf("upload chunk %d: %w", chunk.Seq, err)
		}
	}

	msg, err := r.store.FinalizeVoiceSession(ctx, r.token, duration, waveform)
	if err != nil {
		return models.Message{}, fmt.Errorf("finalize voice session: %w", err)
	}
	return msg, nil
}

// Cancel aborts the recording and the server-side upload session.
func (r *Recorder) Cancel(ctx context.Context) error {
	if !r.recording {
		return nil
	}
	r.recording = false
	return r.store.CancelVoiceSession(ctx, r.token)
}

// probeDuration asks the decoder for the true duration, bounded to two
// seconds, and falls back to the wall-clock recording span.
func (r *Recorder) probeDuration(ctx context.Context, data []byte) time.Duration {
	elapsed := r.now().Sub(r.startedAt)
	if r.prober == nil {
		return elapsed
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	d, err := r.prober.Duration(probeCtx, data)
	if err != nil {
		return elapsed
	}
	return d
}
