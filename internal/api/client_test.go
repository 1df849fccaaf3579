package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/pushdeck/internal/models"
	"github.com/tOgg1/pushdeck/internal/testutil"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	testutil.SkipIfNoNetwork(t)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, StaticToken("secret"), srv.Client())
}

func TestListApplicationMessagesSendsCursorAndToken(t *testing.T) {
	since := int64(42)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/application/7/message", r.URL.Path)
		require.Equal(t, "42", r.URL.Query().Get("since"))
		require.Equal(t, "50", r.URL.Query().Get("limit"))
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(models.PagedMessages{
			Messages: []models.Message{{ID: 41, AppID: 7, Message: "hi", Date: time.Unix(100, 0).UTC()}},
			Paging:   models.Paging{Size: 1, Limit: 50},
		})
	})

	page, err := client.ListApplicationMessages(context.Background(), 7, &since, 50)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	require.EqualValues(t, 41, page.Messages[0].ID)
	require.False(t, page.Paging.HasMore())
}

func TestListMessagesOmitsCursorOnFirstPage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/message", r.URL.Path)
		require.False(t, r.URL.Query().Has("since"))
		_, _ = w.Write([]byte(`{"messages":[],"paging":{"size":0,"limit":100,"since":9}}`))
	})

	page, err := client.ListMessages(context.Background(), nil, 100)
	require.NoError(t, err)
	require.True(t, page.Paging.HasMore())
	require.EqualValues(t, 9, *page.Paging.Since)
}

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		sentinel error
		kind     Kind
	}{
		{"unauthorized", http.StatusUnauthorized, ErrAuthRejected, KindAuthRejected},
		{"server", http.StatusBadGateway, ErrServerError, KindServerError},
		{"client", http.StatusNotFound, ErrClientError, KindClientError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"Oops","errorCode":1,"errorDescription":"went wrong"}`))
			})
			err := client.DeleteMessage(context.Background(), 3)
			require.Error(t, err)
			require.True(t, errors.Is(err, tt.sentinel))
			require.Equal(t, tt.kind, KindOf(err))

			var apiErr *Error
			require.ErrorAs(t, err, &apiErr)
			require.Equal(t, tt.status, apiErr.Status)
			require.Equal(t, "Oops", apiErr.Code)
			require.Equal(t, "went wrong", apiErr.Message)
		})
	}
}

func TestNetworkUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClient(url, StaticToken("secret"), nil)
	_, err := client.CurrentUser(context.Background())
	require.ErrorIs(t, err, ErrNetworkUnavailable)
	require.True(t, IsTransient(err))
}

func TestDecodeError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	})
	_, err := client.ListApplications(context.Background())
	require.ErrorIs(t, err, ErrDecode)
	require.False(t, IsTransient(err))
}

func TestMissingTokenIsAuthRejected(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, StaticToken(""), srv.Client())
	err := client.DeleteMessages(context.Background())
	require.ErrorIs(t, err, ErrAuthRejected)
	require.ErrorIs(t, err, ErrNoToken)
	require.False(t, called)
}

func TestDeletePaths(t *testing.T) {
	var paths []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		paths = append(paths, r.URL.Path)
	})
	ctx := context.Background()
	require.NoError(t, client.DeleteMessage(ctx, 5))
	require.NoError(t, client.DeleteMessages(ctx))
	require.NoError(t, client.DeleteApplicationMessages(ctx, 2))
	require.Equal(t, []string{"/message/5", "/message", "/application/2/message"}, paths)
}

func TestStreamAndResolveURL(t *testing.T) {
	c := NewClient("https://push.example.com/", nil, nil)
	require.Equal(t, "wss://push.example.com/stream?token=a%2Bb", c.StreamURL("a+b"))
	require.Equal(t, "https://push.example.com/image/x.png", c.ResolveURL("image/x.png"))
	require.Equal(t, "http://cdn/x.png", c.ResolveURL("http://cdn/x.png"))
	require.Equal(t, "", c.ResolveURL(""))

	plain := NewClient("http://localhost:80", nil, nil)
	require.Equal(t, "ws://localhost:80/stream?token=t", plain.StreamURL("t"))
}
