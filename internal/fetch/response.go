package fetch

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// ErrBodyUsed 表示响应正文已被消费，原对象不可再次读取或克隆。
var ErrBodyUsed = errors.New("response body already used")

// Source 标记响应来自哪里，写回客户端时作为 X-Worker-Source 输出。
type Source string

const (
	SourceNetwork  Source = "network"
	SourceCache    Source = "cache"
	SourceFallback Source = "fallback"
)

// Response 是只能读取一次的响应。需要同时返回给调用方并写入缓存时，必须先 Clone，
// 两个消费者各自持有独立副本。
type Response struct {
	Status int
	Header http.Header
	URL    string
	Source Source

	mu   sync.Mutex
	body io.ReadCloser
	used bool
}

// NewResponse 包装一个流式正文，nil body 视为空正文。
func NewResponse(status int, header http.Header, body io.ReadCloser) *Response {
	if header == nil {
		header = http.Header{}
	}
	if body == nil {
		body = http.NoBody
	}
	return &Response{Status: status, Header: header, body: body}
}

// NewBufferedResponse 以内存中的正文构建响应，常用于缓存命中。
func NewBufferedResponse(status int, header http.Header, body []byte) *Response {
	return NewResponse(status, header, io.NopCloser(bytes.NewReader(body)))
}

// OK reports whether the status is in the 2xx range.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// BodyUsed reports whether the body has been handed out.
func (r *Response) BodyUsed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.used
}

// Body 转移正文所有权；之后对同一 Response 的 Body/Bytes/Clone 调用都返回 ErrBodyUsed。
func (r *Response) Body() (io.ReadCloser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.used {
		return nil, ErrBodyUsed
	}
	r.used = true
	return r.body, nil
}

// Bytes 读取并关闭正文，同样会消费该响应。
func (r *Response) Bytes() ([]byte, error) {
	body, err := r.Body()
	if err != nil {
		return nil, err
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return data, nil
}

// Clone 缓冲正文并返回独立副本，原响应仍可被消费一次。
func (r *Response) Clone() (*Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.used {
		return nil, ErrBodyUsed
	}
	data, err := io.ReadAll(r.body)
	closeErr := r.body.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		r.used = true
		return nil, fmt.Errorf("buffer response body: %w", err)
	}
	r.body = io.NopCloser(bytes.NewReader(data))

	clone := NewBufferedResponse(r.Status, r.Header.Clone(), data)
	clone.URL = r.URL
	clone.Source = r.Source
	return clone, nil
}

// Close discards an unconsumed body.
func (r *Response) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.used {
		return nil
	}
	r.used = true
	return r.body.Close()
}
