package esmfold

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakub-figat/chromatin/internal/core"
)

const samplePDB = "ATOM      1  N   MET A   1      11.104   6.134  -6.504  1.00 87.50           N\n"

func newTestClient(t *testing.T, url string, retries int) *Client {
	t.Helper()
	c, err := NewClient(Config{
		APIURL:       url,
		MaxRetries:   retries,
		RetryBackoff: time.Millisecond,
		Timeout:      time.Second,
	})
	require.NoError(t, err)
	return c
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(Config{})
	require.ErrorContains(t, err, "url is required")

	_, err = NewClient(Config{APIURL: "not a url"})
	require.Error(t, err)

	c, err := NewClient(Config{APIURL: "https://api.esmatlas.com/foldSequence/v1/pdb/"})
	require.NoError(t, err)
	assert.Equal(t, "esmfold_v1", c.ModelVersion())
	assert.Equal(t, Source, c.Source())
}

func TestClient_PredictSendsFormEncodedSequence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "text/plain", r.Header.Get("Accept"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "MKTAYIAK", r.PostForm.Get("sequence"))
		_, _ = w.Write([]byte(samplePDB))
	}))
	defer srv.Close()

	pdb, err := newTestClient(t, srv.URL, 0).Predict(context.Background(), "MKTAYIAK")
	require.NoError(t, err)
	assert.Equal(t, samplePDB, pdb)
}

func TestClient_PredictRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(samplePDB))
	}))
	defer srv.Close()

	pdb, err := newTestClient(t, srv.URL, 3).Predict(context.Background(), "MK")
	require.NoError(t, err)
	assert.Equal(t, samplePDB, pdb)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_PredictErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retries   int
		wantCalls int32
		wantBody  string
	}{
		{
			name:      "client error is not retried",
			status:    http.StatusBadRequest,
			body:      "invalid sequence",
			retries:   3,
			wantCalls: 1,
			wantBody:  "invalid sequence",
		},
		{
			name:      "server error exhausts retries",
			status:    http.StatusServiceUnavailable,
			body:      "busy",
			retries:   2,
			wantCalls: 3,
			wantBody:  "busy",
		},
		{
			name:      "long bodies are truncated",
			status:    http.StatusUnprocessableEntity,
			body:      strings.Repeat("x", 500),
			wantCalls: 1,
			wantBody:  strings.Repeat("x", maxErrorBodyBytes) + "...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv.URL, tt.retries).Predict(context.Background(), "MK")
			require.Error(t, err)
			require.ErrorIs(t, err, core.ErrUpstream)

			var ue *core.UpstreamError
			require.True(t, errors.As(err, &ue))
			assert.Equal(t, tt.status, ue.StatusCode)
			assert.Equal(t, tt.wantBody, ue.Body)
			assert.Contains(t, err.Error(), "status")
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestClient_PredictRejectsOversizedPDB(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(samplePDB))
	}))
	defer srv.Close()

	newClient := func(limit int64) *Client {
		c, err := NewClient(Config{APIURL: srv.URL, MaxRetries: 2, RetryBackoff: time.Millisecond, MaxResponseBytes: limit})
		require.NoError(t, err)
		return c
	}

	_, err := newClient(int64(len(samplePDB)) - 1).Predict(context.Background(), "MK")
	require.ErrorIs(t, err, core.ErrPrediction)
	assert.Contains(t, err.Error(), "exceeds")
	assert.Equal(t, int32(1), calls.Load(), "an oversized payload is not retried")

	pdb, err := newClient(int64(len(samplePDB))).Predict(context.Background(), "MK")
	require.NoError(t, err)
	assert.Equal(t, samplePDB, pdb)
}

func TestClient_PredictHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := NewClient(Config{APIURL: srv.URL, MaxRetries: 10, RetryBackoff: time.Hour})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Predict(ctx, "MK")
	require.Error(t, err)
}
