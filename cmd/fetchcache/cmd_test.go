package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestKeyCommand(t *testing.T) {
	out, err := execute(t, "key", "/boards/abc", "--param", "page=2", "--param", "q=todo")
	require.NoError(t, err)
	assert.Equal(t, "key: /boards/abc-{\"page\":\"2\",\"q\":\"todo\"}\nurl: /boards/abc?page=2&q=todo\n", out)
}

func TestGetCommand(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"board":"abc","page":"` + r.URL.Query().Get("page") + `"}}`))
	}))
	defer server.Close()

	out, err := execute(t, "get", "/boards/abc",
		"--base-url", server.URL,
		"--param", "page=1",
		"--repeat", "5",
		"--invalidate", "/boards",
	)
	require.NoError(t, err)

	var report struct {
		Value       map[string]any `json:"value"`
		Invalidated int            `json:"invalidated"`
		Stats       struct {
			Entries  int `json:"entries"`
			InFlight int `json:"in_flight"`
		} `json:"stats"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))

	assert.Equal(t, map[string]any{"board": "abc", "page": "1"}, report.Value)
	assert.Equal(t, 1, report.Invalidated)
	assert.Zero(t, report.Stats.Entries)
	assert.Zero(t, report.Stats.InFlight)
	assert.EqualValues(t, 1, requests.Load())
}

func TestGetCommandBackendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := execute(t, "get", "/boards/abc", "--base-url", server.URL)
	assert.ErrorContains(t, err, "unexpected status 500")
}

func TestGetCommandRejectsBadRepeat(t *testing.T) {
	_, err := execute(t, "get", "/boards/abc", "--repeat", "0")
	assert.Error(t, err)
}
