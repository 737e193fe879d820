package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/siteharvest/harvester/internal/harvest"
)

func TestFetchReturnsBodyAndStatus(t *testing.T) {
	t.Parallel()

	var gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.UserAgent()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html><title>ok</title></html>"))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "harvest-test/1.0", Timeout: 5 * time.Second})
	resp, err := f.Fetch(context.Background(), harvest.FetchRequest{URL: srv.URL})
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(resp.Body), "<title>ok</title>")
	require.Equal(t, "harvest-test/1.0", gotAgent)
	require.Greater(t, resp.Duration, time.Duration(0))
}

func TestFetchClassifies429AsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second})
	_, err := f.Fetch(context.Background(), harvest.FetchRequest{URL: srv.URL})
	require.Error(t, err)

	var fe *harvest.FetchError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, http.StatusTooManyRequests, fe.StatusCode)
	require.True(t, fe.Transient)
}

func TestFetchClassifies404AsPermanent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second})
	_, err := f.Fetch(context.Background(), harvest.FetchRequest{URL: srv.URL})
	require.Error(t, err)

	var fe *harvest.FetchError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, http.StatusNotFound, fe.StatusCode)
	require.False(t, fe.Transient)
	require.False(t, harvest.IsTransient(err))
}

func TestFetchClassifies500AsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second})
	_, err := f.Fetch(context.Background(), harvest.FetchRequest{URL: srv.URL})
	require.Error(t, err)
	require.True(t, harvest.IsTransient(err))
}

func TestFetchClassifiesConnectionRefusedAsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	url := srv.URL
	srv.Close()

	f := New(Config{Timeout: 5 * time.Second})
	_, err := f.Fetch(context.Background(), harvest.FetchRequest{URL: url})
	require.Error(t, err)

	var fe *harvest.FetchError
	require.True(t, errors.As(err, &fe))
	require.Zero(t, fe.StatusCode)
	require.True(t, fe.Transient)
	require.True(t, harvest.IsTransient(err))
}

func TestFetchHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-block
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	f := New(Config{Timeout: 30 * time.Second})
	_, err := f.Fetch(ctx, harvest.FetchRequest{URL: srv.URL})
	require.Error(t, err)

	var fe *harvest.FetchError
	require.True(t, errors.As(err, &fe))
	require.False(t, fe.Transient)
}
