package cache

import (
	"net/http"
	"net/textproto"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/genui-chat/offline-worker/internal/fetch"
)

// keyer 负责计算请求身份：规范化 URL 加上配置的 Vary 请求头取值。
type keyer struct {
	varyHeaders []string
}

func newKeyer(headers []string) keyer {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(headers))
	for _, h := range headers {
		h = textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	sort.Strings(out)
	return keyer{varyHeaders: out}
}

func (k keyer) key(req *fetch.Request) string {
	d := xxhash.New()
	_, _ = d.WriteString(requestURL(req))
	for _, h := range k.varyHeaders {
		_, _ = d.WriteString("\n" + h + ":" + req.Header.Get(h))
	}
	return strconv.FormatUint(d.Sum64(), 16)
}

// varySnapshot 记录响应 Vary 头所列请求头的取值，用于匹配时比对。
// 连接层与凭据类字段不参与比对，见 fetch.IsIdentityExempt。
func varySnapshot(req *fetch.Request, respHeader http.Header) map[string]string {
	fields := varyFields(respHeader)
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		if f == "*" || fetch.IsIdentityExempt(f) {
			continue
		}
		out[f] = req.Header.Get(f)
	}
	return out
}

func varyMatches(rec *Record, req *fetch.Request) bool {
	for _, f := range varyFields(rec.Header) {
		if f == "*" {
			return false
		}
		if fetch.IsIdentityExempt(f) {
			continue
		}
		if rec.Vary[f] != req.Header.Get(f) {
			return false
		}
	}
	return true
}

func varyFields(h http.Header) []string {
	var out []string
	for _, v := range h.Values("Vary") {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if part != "*" {
				part = textproto.CanonicalMIMEHeaderKey(part)
			}
			out = append(out, part)
		}
	}
	return out
}

func requestURL(req *fetch.Request) string {
	u := *req.URL
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}
