package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_DoGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/base/api/v1/admin/bundles/manifest":
			assert.Equal(t, "application/json", r.Header.Get("Accept"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"build_id":"b-1"}`))
		case "/base/api/v1/admin/usage":
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":"Access denied - operator endpoint","code":403}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream down"))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/base/")

	t.Run("decodes success", func(t *testing.T) {
		var out struct {
			BuildID string `json:"build_id"`
		}
		require.NoError(t, c.DoGet(context.Background(), "/api/v1/admin/bundles/manifest", nil, &out))
		assert.Equal(t, "b-1", out.BuildID)
	})

	t.Run("parses json errors", func(t *testing.T) {
		err := c.DoGet(context.Background(), "/api/v1/admin/usage", nil, nil)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
		assert.Equal(t, "Access denied - operator endpoint", apiErr.Message)
	})

	t.Run("keeps plain text errors", func(t *testing.T) {
		err := c.DoGet(context.Background(), "/other", nil, nil)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "upstream down", apiErr.Message)
	})
}

func TestClient_DoDelete_NoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	var out map[string]interface{}
	require.NoError(t, NewClient(srv.URL).DoDelete(context.Background(), "/api/v1/admin/bundles", &out))
	assert.Nil(t, out)
}
