package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardrelay/gateway/internal/model"
)

func testConfig(workerURI string) *Config {
	return &Config{
		WorkerSvcURI: workerURI,
		StickyCookie: "AFFINITY",
	}
}

func TestHTTPEventForwarder_SuccessRoundTrip(t *testing.T) {
	var gotReqID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReqID = r.Header.Get("X-Request-Id")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(workerResponse{Success: true})
	}))
	defer srv.Close()

	f := NewHTTPEventForwarder()
	err := f.forward(context.Background(), testConfig(srv.URL), forwardEnvelope{ShardID: 0}, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, gotReqID)
}

func TestHTTPEventForwarder_WorkerFailureSurfacesReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(workerResponse{Success: false, Error: "guild not owned by this worker"})
	}))
	defer srv.Close()

	f := NewHTTPEventForwarder()
	err := f.forward(context.Background(), testConfig(srv.URL), forwardEnvelope{}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "guild not owned by this worker")
	assert.ErrorIs(t, err, ErrWorker)
}

func TestHTTPEventForwarder_WorkerFailureDefaultsReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(workerResponse{Success: false})
	}))
	defer srv.Close()

	f := NewHTTPEventForwarder()
	err := f.forward(context.Background(), testConfig(srv.URL), forwardEnvelope{}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No error found")
}

func TestHTTPEventForwarder_StickyCookieCapturedAndReused(t *testing.T) {
	var cookiesSeen []string
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		cookiesSeen = append(cookiesSeen, r.Header.Get("Cookie"))
		if calls == 1 {
			http.SetCookie(w, &http.Cookie{Name: "AFFINITY", Value: "worker-7"})
		}
		json.NewEncoder(w).Encode(workerResponse{Success: true})
	}))
	defer srv.Close()

	f := NewHTTPEventForwarder()
	cfg := testConfig(srv.URL)

	require.NoError(t, f.forward(context.Background(), cfg, forwardEnvelope{}, 0))
	require.NoError(t, f.forward(context.Background(), cfg, forwardEnvelope{}, 0))

	assert.Empty(t, cookiesSeen[0])
	assert.Equal(t, "AFFINITY=worker-7", cookiesSeen[1])
}

func TestHTTPEventForwarder_StickyHeaderSetWhenGuildIDPresent(t *testing.T) {
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("AFFINITY")
		json.NewEncoder(w).Encode(workerResponse{Success: true})
	}))
	defer srv.Close()

	f := NewHTTPEventForwarder()
	err := f.forward(context.Background(), testConfig(srv.URL), forwardEnvelope{}, model.Snowflake(123))
	require.NoError(t, err)
	assert.Equal(t, "123", gotHeader)
}
