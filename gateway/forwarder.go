package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/bytedance/sonic"
	"github.com/shardrelay/gateway/internal/model"
)

// forwardEnvelope is the wire shape POSTed to the worker service.
type forwardEnvelope struct {
	BotToken     string          `json:"bot_token"`
	BotID        uint64          `json:"bot_id"`
	IsWhitelabel bool            `json:"is_whitelabel"`
	ShardID      int             `json:"shard_id"`
	Event        json.RawMessage `json:"event"`
}

type workerResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// EventForwarder is what the dispatcher depends on; the HTTP
// implementation below is the only one this repository ships, but the
// interface lets tests substitute a fake.
type EventForwarder interface {
	forward(ctx context.Context, cfg *Config, event forwardEnvelope, guildID model.Snowflake) error
}

// HTTPEventForwarder forwards dispatch events to the worker service over a
// pooled HTTP client plus a reader/writer-lock-guarded sticky cookie.
type HTTPEventForwarder struct {
	client *http.Client
	cookie struct {
		mu    sync.RWMutex
		value string
		set   bool
	}
	idNode *snowflake.Node
}

// NewHTTPEventForwarder builds a forwarder with connection pooling and a
// 10s overall request timeout.
func NewHTTPEventForwarder() *HTTPEventForwarder {
	node, _ := snowflake.NewNode(0)
	return &HTTPEventForwarder{
		client: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 32,
			},
		},
		idNode: node,
	}
}

// StartCookieResetLoop implements background cookie-reset task: it
// clears the cached sticky cookie every 180s so a failing backend doesn't
// pin traffic indefinitely. Callers should run this once per process.
func (f *HTTPEventForwarder) StartCookieResetLoop(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(180 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				f.cookie.mu.Lock()
				f.cookie.set = false
				f.cookie.value = ""
				f.cookie.mu.Unlock()
			}
		}
	}()
}

func (f *HTTPEventForwarder) forward(ctx context.Context, cfg *Config, event forwardEnvelope, guildID model.Snowflake) error {
	body, err := sonic.Marshal(event)
	if err != nil {
		return wrapTransport(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.WorkerSvcURI, bytes.NewReader(body))
	if err != nil {
		return wrapTransport(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", f.requestID())

	if guildID != 0 {
		req.Header.Set(cfg.StickyCookie, fmt.Sprintf("%d", guildID))
	}

	f.cookie.mu.RLock()
	if f.cookie.set {
		req.Header.Set("Cookie", fmt.Sprintf("%s=%s", cfg.StickyCookie, f.cookie.value))
	}
	f.cookie.mu.RUnlock()

	resp, err := f.client.Do(req)
	if err != nil {
		return wrapTransport(err)
	}
	defer resp.Body.Close()

	for _, c := range resp.Cookies() {
		if c.Name == cfg.StickyCookie {
			f.cookie.mu.Lock()
			f.cookie.value = c.Value
			f.cookie.set = true
			f.cookie.mu.Unlock()
			break
		}
	}

	var wr workerResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return wrapTransport(err)
	}

	if !wr.Success {
		reason := wr.Error
		if reason == "" {
			reason = "No error found"
		}
		return &WorkerError{Reason: reason}
	}

	return nil
}

func (f *HTTPEventForwarder) requestID() string {
	if f.idNode == nil {
		return ""
	}
	return f.idNode.Generate().String()
}
