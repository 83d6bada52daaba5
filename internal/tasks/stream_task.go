package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	zlog "github.com/rs/zerolog/log"
)

const (
	TypeThreatStreamDelivery = "threats:stream"
)

type StreamPayload struct {
	Event []byte `json:"event"`
}

// NewThreatStreamTask enqueues delivery of a recorded threat event to
// the downstream consumer.
func NewThreatStreamTask(event []byte) (*asynq.Task, error) {
	payload, err := json.Marshal(StreamPayload{Event: event})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeThreatStreamDelivery, payload, asynq.MaxRetry(5), asynq.Timeout(20*time.Second)), nil
}

// StreamTaskHandler POSTs threat events to the configured stream URL.
type StreamTaskHandler struct {
	url    string
	client *http.Client
}

func NewStreamTaskHandler(url string) *StreamTaskHandler {
	return &StreamTaskHandler{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (h *StreamTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p StreamPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	if h.url == "" {
		// Stream delivery was disabled after the task was enqueued.
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(p.Event))
	if err != nil {
		return fmt.Errorf("failed to create request: %v: %w", err, asynq.SkipRetry)
	}
	req.Header.Set("Content-Type", "application/json")
	retryCount, _ := asynq.GetRetryCount(ctx)
	req.Header.Set("X-Threatguard-Attempt", fmt.Sprintf("%d", retryCount+1))

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("stream delivery failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("stream endpoint returned %d", resp.StatusCode)
	}
	zlog.Debug().Int("status", resp.StatusCode).Msg("StreamTask: event delivered")
	return nil
}
