package fetch

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Mode 描述请求的发起方式，对应浏览器的 Request.mode。
type Mode string

const (
	ModeNavigate   Mode = "navigate"
	ModeSameOrigin Mode = "same-origin"
	ModeCORS       Mode = "cors"
	ModeNoCORS     Mode = "no-cors"
)

// Request 是一次被拦截的请求快照。URL 始终为绝对地址，Header 为副本，调用方可自由修改。
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Mode   Mode
	Body   []byte
}

// NewRequest 以绝对 URL 构建请求，fragment 会被剔除以保持与缓存身份一致。
func NewRequest(method, rawURL string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse request url: %w", err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("request url must be absolute: %s", rawURL)
	}
	u.Fragment = ""
	u.RawFragment = ""
	if method == "" {
		method = http.MethodGet
	}
	return &Request{
		Method: strings.ToUpper(method),
		URL:    u,
		Header: http.Header{},
		Mode:   ModeNoCORS,
	}, nil
}

// Resolve 将相对路径（如 precache 清单中的 "/index.html"）解析为 base 下的 GET 请求。
func Resolve(base *url.URL, ref string) (*Request, error) {
	if base == nil {
		return nil, fmt.Errorf("base url required")
	}
	rel, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", ref, err)
	}
	return NewRequest(http.MethodGet, base.ResolveReference(rel).String())
}

// IsNavigation reports whether the request is a top-level document load.
func (r *Request) IsNavigation() bool {
	return r != nil && r.Mode == ModeNavigate
}

// Clone returns a deep copy of the request.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	u := *r.URL
	out := &Request{
		Method: r.Method,
		URL:    &u,
		Header: r.Header.Clone(),
		Mode:   r.Mode,
	}
	if out.Header == nil {
		out.Header = http.Header{}
	}
	if len(r.Body) > 0 {
		out.Body = append([]byte(nil), r.Body...)
	}
	return out
}

// ResolveMode 根据 Sec-Fetch-Mode 推断请求模式；缺失时把接受 text/html 的 GET 视为导航。
func ResolveMode(method string, header http.Header) Mode {
	switch strings.ToLower(strings.TrimSpace(header.Get("Sec-Fetch-Mode"))) {
	case "navigate":
		return ModeNavigate
	case "same-origin":
		return ModeSameOrigin
	case "cors":
		return ModeCORS
	case "no-cors":
		return ModeNoCORS
	}
	if method == http.MethodGet && strings.Contains(header.Get("Accept"), "text/html") {
		return ModeNavigate
	}
	return ModeNoCORS
}

// Origin 返回 scheme://host[:port]，默认端口会被省略，便于同源比较。
func Origin(u *url.URL) string {
	if u == nil {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = host + ":" + port
	}
	return scheme + "://" + host
}

// SameOrigin reports whether a and b share scheme, host and port.
func SameOrigin(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	return Origin(a) == Origin(b)
}
