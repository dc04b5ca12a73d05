package transport

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seednet/seednet/internal/domain"
)

func peerFor(t *testing.T, srv *httptest.Server) *domain.Peer {
	t.Helper()
	host, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	n, err := strconv.Atoi(port)
	require.NoError(t, err)
	return &domain.Peer{ID: "peer00000001", IP: host, Port: n}
}

func TestHello_RoundTrip(t *testing.T) {
	var got domain.HelloRequest
	var rid string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathHello, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		rid = r.Header.Get(RequestIDHeader)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(domain.HelloResponse{YourIP: "198.51.100.7", YourClass: domain.ClassSenior, Seeds: []string{"a", "b"}})
	}))
	defer srv.Close()

	tr := New(DefaultConfig(), srv.Client(), nil)
	resp, err := tr.Hello(context.Background(), peerFor(t, srv), domain.HelloRequest{SessionKey: "k", Seed: "p|{}", Count: 2})
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.7", resp.YourIP)
	assert.Equal(t, domain.ClassSenior, resp.YourClass)
	assert.Len(t, resp.Seeds, 2)
	assert.Equal(t, "k", got.SessionKey)
	assert.Len(t, rid, 36)
}

func TestSearch_FillsPeer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(domain.SearchResult{URLs: []string{"http://x"}})
	}))
	defer srv.Close()

	target := peerFor(t, srv)
	res, err := New(DefaultConfig(), nil, nil).Search(context.Background(), target, domain.SearchRequest{})
	require.NoError(t, err)
	assert.Equal(t, target.ID, res.Peer)
	assert.Equal(t, []string{"http://x"}, res.URLs)
}

func TestCall_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case PathQuery:
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		case PathCrawl:
			_ = json.NewEncoder(w).Encode(domain.CrawlOrderResponse{Receipt: "maybe"})
		case PathTransfer:
			_, _ = w.Write([]byte("{not json"))
		}
	}))
	defer srv.Close()
	target := peerFor(t, srv)
	tr := New(DefaultConfig(), nil, nil)

	_, err := tr.Query(context.Background(), target, domain.QueryRequest{Object: "rwicount"})
	assert.ErrorIs(t, err, domain.ErrPeerUnreachable)
	assert.Contains(t, err.Error(), "503")

	_, err = tr.Crawl(context.Background(), target, domain.CrawlOrder{URL: "http://example.org"})
	assert.Error(t, err)

	_, err = tr.TransferIndex(context.Background(), target, domain.TransferRequest{})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrPeerUnreachable)
}

func TestCall_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	tr := New(Config{PingTimeout: 30 * time.Millisecond}, nil, nil)
	start := time.Now()
	_, err := tr.Hello(context.Background(), peerFor(t, srv), domain.HelloRequest{})
	assert.ErrorIs(t, err, domain.ErrPeerUnreachable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestCall_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	_, err = New(DefaultConfig(), nil, nil).Hello(context.Background(),
		&domain.Peer{ID: "peer00000002", IP: "127.0.0.1", Port: addr.Port}, domain.HelloRequest{})
	assert.ErrorIs(t, err, domain.ErrPeerUnreachable)
}
