package proxy

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// MaxHeaderBytes bounds how much of a connection is read before routing.
const MaxHeaderBytes = 16384

var (
	ErrHeaderTooLarge = errors.New("http header exceeded max length")
	ErrNoHost         = errors.New("request has no Host header")
)

var headerEnd = []byte("\r\n\r\n")

type Config struct {
	BindHost string
	BindPort int

	// MaxHeader defaults to MaxHeaderBytes.
	MaxHeader   int
	DialTimeout time.Duration
}

func (c Config) Addr() string {
	return net.JoinHostPort(c.BindHost, fmt.Sprint(c.BindPort))
}

// Server routes each TCP connection by the Host header of its first request
// and then splices bytes both ways until either side closes.
type Server struct {
	cfg      Config
	registry *Registry
}

func New(cfg Config, reg *Registry) *Server {
	if cfg.MaxHeader <= 0 {
		cfg.MaxHeader = MaxHeaderBytes
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	return &Server{cfg: cfg, registry: reg}
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr(), err)
	}
	log.Info().Str("address", ln.Addr().String()).Strs("hosts", s.registry.Hosts()).Msg("robby proxy listening")
	return s.Serve(ctx, ln)
}

// Serve accepts on ln until ctx is cancelled, then closes open connections
// and waits for their handlers.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

func (s *Server) handle(ctx context.Context, client net.Conn) {
	defer client.Close()
	stop := context.AfterFunc(ctx, func() { client.Close() })
	defer stop()

	logger := log.With().Str("client", client.RemoteAddr().String()).Logger()
	logger.Debug().Msg("connection")

	buf := make([]byte, s.cfg.MaxHeader)
	n, split, err := readHeader(client, buf)
	if err != nil {
		logger.Warn().Err(err).Msg("read header")
		if errors.Is(err, ErrHeaderTooLarge) {
			writeStatus(client, http.StatusRequestHeaderFieldsTooLarge)
		}
		return
	}

	host, err := extractHost(buf[:split])
	if err != nil {
		logger.Warn().Err(err).Msg("bad request")
		writeStatus(client, http.StatusBadRequest)
		return
	}

	addr, err := s.registry.Lookup(host)
	if err != nil {
		logger.Warn().Err(err).Msg("lookup")
		writeStatus(client, http.StatusBadGateway)
		return
	}
	logger.Debug().Str("host", host).Str("backend", addr).Msg("have mapping")

	dialer := net.Dialer{Timeout: s.cfg.DialTimeout}
	backend, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		logger.Warn().Err(err).Str("backend", addr).Msg("failed to connect")
		writeStatus(client, http.StatusBadGateway)
		return
	}
	defer backend.Close()

	if _, err := backend.Write(buf[:n]); err != nil {
		logger.Warn().Err(err).Msg("forward header")
		return
	}

	sent, received := splice(client, backend)
	logger.Debug().Int64("sent", sent).Int64("received", received).Msg("connection closed")
}

// splice copies in both directions and returns once either direction ends.
func splice(client, backend net.Conn) (sent, received int64) {
	type result struct {
		toBackend bool
		n         int64
	}
	done := make(chan result, 2)
	go func() {
		n, _ := io.Copy(backend, client)
		done <- result{toBackend: true, n: n}
	}()
	go func() {
		n, _ := io.Copy(client, backend)
		done <- result{n: n}
	}()

	first := <-done
	client.Close()
	backend.Close()
	second := <-done
	for _, r := range []result{first, second} {
		if r.toBackend {
			sent = r.n
		} else {
			received = r.n
		}
	}
	return sent, received
}

// readHeader fills buf until it holds the blank line that ends an HTTP
// header. It returns the bytes read and the offset just past the header;
// anything after split is body already taken off the wire.
func readHeader(r io.Reader, buf []byte) (n, split int, err error) {
	for n < len(buf) {
		m, rerr := r.Read(buf[n:])
		// The terminator may straddle two reads.
		from := n - len(headerEnd) + 1
		if from < 0 {
			from = 0
		}
		n += m
		if i := bytes.Index(buf[from:n], headerEnd); i >= 0 {
			return n, from + i + len(headerEnd), nil
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return n, 0, io.ErrUnexpectedEOF
			}
			return n, 0, rerr
		}
	}
	return n, 0, ErrHeaderTooLarge
}

func extractHost(header []byte) (string, error) {
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(header)))
	if err != nil {
		return "", fmt.Errorf("parse header: %w", err)
	}
	if req.Host == "" {
		return "", ErrNoHost
	}
	return req.Host, nil
}

func writeStatus(w io.Writer, code int) {
	fmt.Fprintf(w, "HTTP/1.1 %d %s\r\nContent-Length: 0\r\nConnection: close\r\n\r\n", code, http.StatusText(code))
}
