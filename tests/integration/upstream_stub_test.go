package integration

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

// upstreamStub 模拟前端静态资源服务器，正文可在测试中替换，并可整体下线以模拟断网。
type upstreamStub struct {
	server   *http.Server
	listener net.Listener
	URL      string

	mu       sync.Mutex
	bodies   map[string]string
	headers  http.Header
	requests []RecordedRequest
}

// RecordedRequest 捕获每次请求的方法/路径/Headers，便于断言代理行为。
type RecordedRequest struct {
	Method  string
	Path    string
	Headers http.Header
}

func newUpstreamStub(t *testing.T, bodies map[string]string) *upstreamStub {
	t.Helper()

	stub := &upstreamStub{bodies: make(map[string]string, len(bodies)), headers: http.Header{}}
	for k, v := range bodies {
		stub.bodies[k] = v
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.recordRequest(r)
		body, ok := stub.body(r.URL.Path)
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", contentType(r.URL.Path))
		for key, values := range stub.extraHeaders() {
			for _, v := range values {
				w.Header().Add(key, v)
			}
		}
		_, _ = w.Write([]byte(body))
	})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("unable to start upstream stub listener: %v", err)
	}
	server := &http.Server{Handler: handler}

	stub.server = server
	stub.listener = listener
	stub.URL = "http://" + listener.Addr().String()

	go func() {
		_ = server.Serve(listener)
	}()
	t.Cleanup(stub.Close)

	return stub
}

// Close 关闭上游，之后的请求会得到连接错误，相当于离线。
func (s *upstreamStub) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.server.Shutdown(ctx)
}

func (s *upstreamStub) setBody(path, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bodies[path] = body
}

// setHeader 为之后的所有响应附加固定头部。
func (s *upstreamStub) setHeader(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headers.Set(key, value)
}

func (s *upstreamStub) extraHeaders() http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headers.Clone()
}

func (s *upstreamStub) body(path string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, ok := s.bodies[path]
	return body, ok
}

func (s *upstreamStub) recordRequest(r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, RecordedRequest{
		Method:  r.Method,
		Path:    r.URL.Path,
		Headers: r.Header.Clone(),
	})
}

func (s *upstreamStub) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RecordedRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *upstreamStub) count(path string) int {
	n := 0
	for _, req := range s.Requests() {
		if req.Path == path {
			n++
		}
	}
	return n
}

func contentType(path string) string {
	switch {
	case path == "/" || strings.HasSuffix(path, ".html"):
		return "text/html; charset=utf-8"
	case strings.HasSuffix(path, ".js"):
		return "application/javascript"
	case strings.HasSuffix(path, ".svg"):
		return "image/svg+xml"
	default:
		return "application/json"
	}
}
