// Package transcribe turns WhatsApp voice notes into text for buffer
// aggregation.
package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/echoposthq/echopost/pkg/logging"
)

type audioClient interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
}

// Transcriber converts audio bytes to text with the Whisper API.
type Transcriber struct {
	client audioClient
	model  string
	logger *logging.Logger
}

func New(client audioClient, model string, logger *logging.Logger) *Transcriber {
	if client == nil {
		panic("transcribe: audio client cannot be nil")
	}
	if model == "" {
		model = openai.Whisper1
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &Transcriber{
		client: client,
		model:  model,
		logger: logger,
	}
}

// Transcribe sends one voice note for transcription. The filename only
// hints the container format to the API.
func (t *Transcriber) Transcribe(ctx context.Context, filename string, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", errors.New("transcribe: empty audio")
	}
	if filename == "" {
		filename = "voice-note.ogg"
	}

	callCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	resp, err := t.client.CreateTranscription(callCtx, openai.AudioRequest{
		Model:    t.model,
		FilePath: filename,
		Reader:   bytes.NewReader(audio),
	})
	if err != nil {
		return "", fmt.Errorf("transcribe: whisper request failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", errors.New("transcribe: whisper returned no text")
	}
	return text, nil
}
