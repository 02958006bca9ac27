package fetch

import (
	"net/http"
	"net/textproto"
)

// hopByHopHeaders 定义 RFC 7230 中禁止代理转发的头部。
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Proxy-Connection":    {}, // 非标准字段，但部分代理仍使用
}

// CopyHeaders 将 src 中允许透传的头复制到 dst，自动忽略 hop-by-hop 字段。
func CopyHeaders(dst, src http.Header) {
	for key, values := range src {
		if IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// IsHopByHopHeader reports whether the header should be stripped by proxies.
func IsHopByHopHeader(key string) bool {
	_, ok := hopByHopHeaders[textproto.CanonicalMIMEHeaderKey(key)]
	return ok
}

// transportHeaders 由传输层协商或维护，不属于请求的语义身份。
var transportHeaders = map[string]struct{}{
	"Accept-Encoding": {},
	"Content-Length":  {},
	"Host":            {},
}

// IsTransportHeader reports whether the header belongs to the connection rather
// than to the request: hop-by-hop fields plus those the HTTP client negotiates itself.
func IsTransportHeader(key string) bool {
	key = textproto.CanonicalMIMEHeaderKey(key)
	if _, ok := transportHeaders[key]; ok {
		return true
	}
	return IsHopByHopHeader(key)
}

// cookieHeaders 由浏览器在网络层附加，不参与请求身份比对。
var cookieHeaders = map[string]struct{}{
	"Cookie":  {},
	"Cookie2": {},
}

// IsIdentityExempt reports whether a Vary field must be ignored when comparing
// request identity. Cookies still reach the network.
func IsIdentityExempt(key string) bool {
	key = textproto.CanonicalMIMEHeaderKey(key)
	if _, ok := cookieHeaders[key]; ok {
		return true
	}
	return IsTransportHeader(key)
}
