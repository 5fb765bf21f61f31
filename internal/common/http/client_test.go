package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoJSON_SendsHeadersAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "n-1", in["id"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	client := NewClient(time.Second).WithHeader("Authorization", "Bearer key-1")

	var out struct {
		Success bool `json:"success"`
	}
	err := client.DoJSON(context.Background(), http.MethodPost, srv.URL, map[string]string{"id": "n-1"}, &out)
	require.NoError(t, err)
	assert.True(t, out.Success)
}

func TestDoJSON_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	err := NewClient(time.Second).DoJSON(context.Background(), http.MethodGet, srv.URL, nil, nil)
	require.Error(t, err)

	statusErr, ok := err.(*StatusError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.True(t, statusErr.Temporary())
	assert.Contains(t, statusErr.Error(), "upstream down")
}

func TestWithHeader_DoesNotMutateParent(t *testing.T) {
	parent := NewClient(time.Second)
	child := parent.WithHeader("X-Api-Key", "k")

	assert.Empty(t, parent.headers)
	assert.Equal(t, "k", child.headers["X-Api-Key"])
}
