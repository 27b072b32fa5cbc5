package judge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHTTPClientExecute(t *testing.T) {
	var received Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, executePath, r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"output":"3\n","status":"Accepted","executionTime":12.5,"memory":-1}`))
	}))
	defer server.Close()

	client, err := NewHTTPClient(HTTPConfig{BaseURL: server.URL + "/", Timeout: time.Second})
	require.NoError(t, err)
	defer client.Close()

	outcome := client.Execute(context.Background(), Request{Code: "print(3)", Language: "python", Input: "1 2"})
	require.False(t, outcome.Failed())
	require.Equal(t, "3\n", outcome.Output)
	require.Equal(t, 12.5, outcome.ExecutionTime)
	require.Equal(t, float64(0), outcome.Memory)

	require.Equal(t, "print(3)", received.Code)
	require.Equal(t, "python", received.Language)
	require.Equal(t, "1 2", received.Input)
}

func TestHTTPClientReportsRemoteErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"output":"","error":"SyntaxError: invalid syntax"}`))
	}))
	defer server.Close()

	client, err := NewHTTPClient(HTTPConfig{BaseURL: server.URL})
	require.NoError(t, err)

	outcome := client.Execute(context.Background(), Request{Code: "print(", Language: "python"})
	require.True(t, outcome.Failed())
	require.Equal(t, StatusError, outcome.Status)
	require.Contains(t, outcome.Error, "SyntaxError")
}

func TestHTTPClientWaitsForRateLimiter(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte(`{"output":"42","status":"Accepted"}`))
	}))
	defer server.Close()

	client, err := NewHTTPClient(HTTPConfig{BaseURL: server.URL, RatePerSecond: 5})
	require.NoError(t, err)
	defer client.Close()

	for i := 0; i < 14; i++ {
		outcome := client.Execute(context.Background(), Request{Code: "print(42)", Language: "python"})
		require.False(t, outcome.Failed(), "case %d: %s", i, outcome.Error)
		require.Equal(t, "42", outcome.Output)
	}
	require.Equal(t, int32(14), atomic.LoadInt32(&hits))
}

func TestHTTPClientRateLimiterHonoursContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"output":"42","status":"Accepted"}`))
	}))
	defer server.Close()

	client, err := NewHTTPClient(HTTPConfig{BaseURL: server.URL, RatePerSecond: 1})
	require.NoError(t, err)
	defer client.Close()

	for i := 0; i < 2; i++ {
		require.False(t, client.Execute(context.Background(), Request{Code: "x", Language: "go"}).Failed())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	outcome := client.Execute(ctx, Request{Code: "x", Language: "go"})
	require.True(t, outcome.Failed())
	require.Contains(t, outcome.Error, context.DeadlineExceeded.Error())
}

func TestHTTPClientTripsBreakerOnTransportFailures(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client, err := NewHTTPClient(HTTPConfig{BaseURL: server.URL, FailureTrip: 2})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		outcome := client.Execute(context.Background(), Request{Code: "x", Language: "go"})
		require.True(t, outcome.Failed())
		require.Contains(t, outcome.Error, "502")
	}

	outcome := client.Execute(context.Background(), Request{Code: "x", Language: "go"})
	require.True(t, outcome.Failed())
	require.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestHTTPClientCancelledContext(t *testing.T) {
	client, err := NewHTTPClient(HTTPConfig{BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := client.Execute(ctx, Request{Code: "x", Language: "go"})
	require.True(t, outcome.Failed())
	require.Contains(t, outcome.Error, "context canceled")
}

func TestNewHTTPClientRequiresBaseURL(t *testing.T) {
	_, err := NewHTTPClient(HTTPConfig{})
	require.Error(t, err)
}

func TestOutputsMatchNormalisesWhitespace(t *testing.T) {
	require.True(t, OutputsMatch("3\r\n", "3"))
	require.True(t, OutputsMatch("  a\nb  ", "a\nb"))
	require.False(t, OutputsMatch("a b", "a  b"))
	require.Equal(t, "code\nharness", ComposeSource("code", "harness"))
	require.Equal(t, "code", ComposeSource("code", " \n"))
}
