package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// Fetcher 执行一次网络请求。错误仅表示网络层失败；非 2xx 状态码以 Response 返回。
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *Request) (*Response, error)

// Fetch makes FetcherFunc satisfy Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// HTTPFetcher 使用共享 http.Client 访问网络。发往 scope 源的请求会被改写到 upstream，
// 其它源的请求按原样发送。
type HTTPFetcher struct {
	client   *http.Client
	scope    *url.URL
	upstream *url.URL
}

// NewHTTPFetcher 构造网络访问器；upstream 为空时同源请求也直接发往 scope。
func NewHTTPFetcher(client *http.Client, scope, upstream *url.URL) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client, scope: scope, upstream: upstream}
}

// Fetch 发送请求并以流式正文返回响应，调用方负责消费或 Close。
func (f *HTTPFetcher) Fetch(ctx context.Context, req *Request) (*Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("fetch: request url required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	target := f.target(req.URL)
	var body *bytes.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	var httpReq *http.Request
	var err error
	if body != nil {
		httpReq, err = http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	} else {
		httpReq, err = http.NewRequestWithContext(ctx, req.Method, target.String(), http.NoBody)
	}
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", target, err)
	}
	CopyHeaders(httpReq.Header, req.Header)
	httpReq.Header.Del("Accept-Encoding")
	httpReq.Header.Del("Host")
	httpReq.Host = target.Host
	if target.Host != req.URL.Host {
		httpReq.Header.Set("X-Forwarded-Host", req.URL.Host)
		httpReq.Header.Set("X-Forwarded-Proto", req.URL.Scheme)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", req.URL, err)
	}

	header := http.Header{}
	CopyHeaders(header, resp.Header)
	header.Del("Content-Length")

	out := NewResponse(resp.StatusCode, header, resp.Body)
	out.URL = req.URL.String()
	out.Source = SourceNetwork
	return out, nil
}

func (f *HTTPFetcher) target(u *url.URL) *url.URL {
	if f.upstream == nil || f.scope == nil || !SameOrigin(u, f.scope) {
		return u
	}
	out := *u
	out.Scheme = f.upstream.Scheme
	out.Host = f.upstream.Host
	out.User = f.upstream.User
	if base := strings.TrimSuffix(f.upstream.Path, "/"); base != "" {
		out.Path = path.Join(base, u.Path)
		if strings.HasSuffix(u.Path, "/") && !strings.HasSuffix(out.Path, "/") {
			out.Path += "/"
		}
		out.RawPath = ""
	}
	return &out
}
