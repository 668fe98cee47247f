package proxy

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knusbaum/robby/internal/dummy"
	"github.com/knusbaum/robby/internal/runner"
	"github.com/knusbaum/robby/internal/scenario"
)

const browserHeader = "GET / HTTP/1.1\r\n" +
	"Host: www.rust-lang.org\r\n" +
	"User-Agent: Mozilla/5.0 (X11; Linux x86_64; rv:67.0) Gecko/20100101 Firefox/67.0\r\n" +
	"Accept: text/html,application/xhtml+xml\r\n" +
	"Connection: keep-alive\r\n" +
	"\r\n"

func TestExtractHost(t *testing.T) {
	host, err := extractHost([]byte(browserHeader))
	require.NoError(t, err)
	assert.Equal(t, "www.rust-lang.org", host)

	lower := strings.Replace(browserHeader, "Host:", "host:", 1)
	host, err = extractHost([]byte(lower))
	require.NoError(t, err)
	assert.Equal(t, "www.rust-lang.org", host)

	noHost := strings.Replace(browserHeader, "Host: www.rust-lang.org\r\n", "", 1)
	_, err = extractHost([]byte(noHost))
	assert.ErrorIs(t, err, ErrNoHost)

	_, err = extractHost(nil)
	assert.Error(t, err)
}

func TestReadHeader(t *testing.T) {
	body := "name=robby"
	in := browserHeader + body

	buf := make([]byte, MaxHeaderBytes)
	n, split, err := readHeader(strings.NewReader(in), buf)
	require.NoError(t, err)
	assert.Equal(t, len(browserHeader), split)
	assert.Equal(t, in, string(buf[:n]))
}

func TestReadHeaderTerminatorAcrossReads(t *testing.T) {
	buf := make([]byte, MaxHeaderBytes)
	n, split, err := readHeader(iotest.OneByteReader(strings.NewReader(browserHeader)), buf)
	require.NoError(t, err)
	assert.Equal(t, len(browserHeader), n)
	assert.Equal(t, len(browserHeader), split)
}

func TestReadHeaderErrors(t *testing.T) {
	buf := make([]byte, 32)
	_, _, err := readHeader(strings.NewReader("GET / HTTP/1.1\r\nHost: robby.test\r\nX-Pad: "+strings.Repeat("a", 64)), buf)
	assert.ErrorIs(t, err, ErrHeaderTooLarge)

	_, _, err = readHeader(strings.NewReader("GET / HTTP/1.1\r\n"), make([]byte, MaxHeaderBytes))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

// startProxy serves reg on a loopback port and returns its address.
func startProxy(t *testing.T, reg *Registry) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(Config{}, reg).Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return ln.Addr().String()
}

func targetSite(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(dummy.Handler(dummy.ServerConfig{}))
	t.Cleanup(srv.Close)
	return srv.Listener.Addr().String()
}

func TestProxyRoutesByHost(t *testing.T) {
	reg := NewRegistry()
	reg.Update(map[string][]string{"*robby.test": {targetSite(t)}})
	addr := startProxy(t, reg)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{Jar: jar, Timeout: 5 * time.Second}

	get := func(path string) *http.Response {
		req, err := http.NewRequest(http.MethodGet, "http://"+addr+path, nil)
		require.NoError(t, err)
		req.Host = "www.robby.test"
		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp
	}

	assert.Equal(t, http.StatusOK, get("/").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, get("/profile.html").StatusCode)
	assert.Equal(t, http.StatusOK, get("/login.html").StatusCode)
	assert.Equal(t, http.StatusOK, get("/profile.html").StatusCode)
}

func TestProxyUnknownHost(t *testing.T) {
	addr := startProxy(t, NewRegistry())

	req, err := http.NewRequest(http.MethodGet, "http://"+addr+"/", nil)
	require.NoError(t, err)
	req.Host = "nowhere.test"
	resp, err := (&http.Client{Timeout: 5 * time.Second}).Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestProxyRejectsOversizedHeader(t *testing.T) {
	addr := startProxy(t, NewRegistry())

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	// Exactly fills the buffer so nothing is left unread when the proxy hangs up.
	prefix := "GET / HTTP/1.1\r\nX-Pad: "
	_, err = conn.Write([]byte(prefix + strings.Repeat("a", MaxHeaderBytes-len(prefix))))
	require.NoError(t, err)

	reply, _ := io.ReadAll(conn)
	assert.True(t, bytes.HasPrefix(reply, []byte("HTTP/1.1 431")), string(reply))
}

func TestServeReturnsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(Config{}, NewRegistry()).Serve(ctx, ln) }()

	// An idle client must not hold up shutdown.
	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestWebsiteScenarioThroughProxy(t *testing.T) {
	reg := NewRegistry()
	reg.Update(map[string][]string{"127.0.0.1": {targetSite(t)}})
	addr := startProxy(t, reg)

	d := scenario.Website()
	d.MinWait, d.MaxWait = time.Millisecond, 3*time.Millisecond
	r := runner.NewRunner(runner.Config{
		Host:       "http://" + addr,
		NumUsers:   3,
		RunTime:    200 * time.Millisecond,
		TimeoutSec: 2,
	}, d)
	require.NoError(t, r.Run(context.Background()))

	total := r.Stats.Total()
	assert.Positive(t, total.Requests)
	assert.Zero(t, total.Fail)

	login, ok := r.Stats.Entry("GET", "/login.html")
	require.True(t, ok)
	assert.Equal(t, uint64(3), login.Requests)
	logout, ok := r.Stats.Entry("GET", "/logout.html")
	require.True(t, ok)
	assert.Equal(t, uint64(3), logout.Requests)
}
