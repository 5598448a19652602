package source_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/degenbets-settler/internal/source"
)

func TestFetchHTMLPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><h1>Final score</h1><p>Team A &amp; Team B</p></body></html>`))
	}))
	defer srv.Close()

	doc, err := source.NewFetcher().Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Final score Team A & Team B", doc.Text)
	assert.Contains(t, string(doc.Raw), "<h1>")
	assert.Equal(t, "text/html", doc.ContentType)
	assert.False(t, doc.Truncated)
}

func TestFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := source.NewFetcher().FetchText(context.Background(), srv.URL)
	require.Error(t, err)

	var fe *source.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, source.KindHTTP, fe.Kind)
	assert.Equal(t, 500, fe.Status)
	assert.Equal(t, "HTTP 500 fetching "+srv.URL, err.Error())
}

func TestFetchFollowsOneRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final", http.StatusFound)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("landed"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	doc, err := source.NewFetcher().Fetch(context.Background(), srv.URL+"/start")
	require.NoError(t, err)
	assert.Equal(t, "landed", doc.Text)
	assert.Equal(t, srv.URL+"/final", doc.FinalURL)
}

func TestFetchDoesNotFollowSecondRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/b", http.StatusFound)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/c", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/c", func(w http.ResponseWriter, r *http.Request) {
		t.Error("second redirect must not be followed")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := source.NewFetcher().Fetch(context.Background(), srv.URL+"/a")
	var fe *source.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, source.KindHTTP, fe.Kind)
	assert.Equal(t, http.StatusMovedPermanently, fe.Status)
}

func TestFetchCapsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 5000)))
	}))
	defer srv.Close()

	doc, err := source.NewFetcher(source.WithMaxBytes(1000)).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, doc.Raw, 1000)
	assert.True(t, doc.Truncated)
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := source.NewFetcher(source.WithTimeout(50*time.Millisecond)).Fetch(context.Background(), srv.URL)
	var fe *source.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, source.KindTimeout, fe.Kind)
	assert.Equal(t, "Timeout fetching "+srv.URL, err.Error())
}

func TestFetchNetworkError(t *testing.T) {
	_, err := source.NewFetcher().Fetch(context.Background(), "http://127.0.0.1:1/unreachable")
	var fe *source.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, source.KindNetwork, fe.Kind)
}
