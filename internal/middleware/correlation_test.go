package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func TestCorrelationIDSources(t *testing.T) {
	app := fiber.New()
	app.Use(CorrelationID())
	app.Get("/echo", func(c *fiber.Ctx) error {
		require.Equal(t, GetCorrelationID(c), CorrelationIDFromContext(c.UserContext()))
		return c.SendString(GetCorrelationID(c))
	})

	tests := []struct {
		name    string
		path    string
		headers map[string]string
		want    string
	}{
		{name: "correlation header", path: "/echo", headers: map[string]string{CorrelationHeader: "cid-1", RequestIDHeader: "req-1"}, want: "cid-1"},
		{name: "request id header", path: "/echo", headers: map[string]string{RequestIDHeader: " req-2 "}, want: "req-2"},
		{name: "websocket query", path: "/echo?cid=ws-3", want: "ws-3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			for key, value := range tt.headers {
				req.Header.Set(key, value)
			}
			resp, err := app.Test(req, -1)
			require.NoError(t, err)
			require.Equal(t, tt.want, resp.Header.Get(CorrelationHeader))
		})
	}

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/echo", nil), -1)
	require.NoError(t, err)
	require.Len(t, resp.Header.Get(CorrelationHeader), 36)
}

func TestContextWithCorrelation(t *testing.T) {
	ctx := ContextWithCorrelation(context.Background(), "  ")
	require.Empty(t, CorrelationIDFromContext(ctx))

	ctx = ContextWithCorrelation(context.Background(), " abc ")
	require.Equal(t, "abc", CorrelationIDFromContext(ctx))
}
