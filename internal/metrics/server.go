package metrics

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"
)

// Server is a deliberately minimal HTTP endpoint for the metrics store.
// It parses only the request line, answers GET /metrics and GET /health,
// and closes every connection after one response.
type Server struct {
	store      *Store
	listener   net.Listener
	thresholds AlertThresholds
}

func NewServer(store *Store) *Server {
	return &Server{store: store, thresholds: DefaultThresholds()}
}

// Start begins serving on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listen: %w", err)
	}
	s.listener = ln
	slog.Info("metrics server listening", "addr", addr)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.handle(conn)
		}
	}()
	return nil
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	reader := bufio.NewReader(conn)
	requestLine, err := reader.ReadString('\n')
	if err != nil {
		return
	}
	parts := strings.Fields(strings.TrimSpace(requestLine))
	if len(parts) < 2 {
		writeResponse(conn, 400, "text/plain", "bad request\n")
		return
	}
	method, rawPath := parts[0], parts[1]
	if method != "GET" {
		writeResponse(conn, 405, "text/plain", "method not allowed\n")
		return
	}

	u, err := url.Parse(rawPath)
	if err != nil {
		writeResponse(conn, 400, "text/plain", "bad request\n")
		return
	}

	switch u.Path {
	case "/health":
		writeResponse(conn, 200, "application/json", `{"status":"ok"}`+"\n")
	case "/metrics":
		s.serveMetrics(conn, u.Query().Get("format"))
	default:
		writeResponse(conn, 404, "text/plain", "not found\n")
	}
}

func (s *Server) serveMetrics(conn net.Conn, format string) {
	snap, err := s.store.Snapshot(24)
	if err != nil {
		writeResponse(conn, 500, "text/plain", "snapshot failed\n")
		return
	}

	switch format {
	case "", "prometheus":
		writeResponse(conn, 200, "text/plain; version=0.0.4", snap.Prometheus())
	case "json":
		body, err := snap.JSON()
		if err != nil {
			writeResponse(conn, 500, "text/plain", "encode failed\n")
			return
		}
		writeResponse(conn, 200, "application/json", string(body)+"\n")
	case "dashboard_json":
		body, err := snap.DashboardJSON()
		if err != nil {
			writeResponse(conn, 500, "text/plain", "encode failed\n")
			return
		}
		writeResponse(conn, 200, "application/json", string(body)+"\n")
	default:
		writeResponse(conn, 400, "text/plain", "unknown format\n")
	}
}

var statusText = map[int]string{
	200: "OK",
	400: "Bad Request",
	404: "Not Found",
	405: "Method Not Allowed",
	500: "Internal Server Error",
}

func writeResponse(conn net.Conn, status int, contentType, body string) {
	fmt.Fprintf(conn, "HTTP/1.1 %d %s\r\nContent-Type: %s\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		status, statusText[status], contentType, len(body), body)
}
