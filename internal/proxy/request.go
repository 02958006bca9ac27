package proxy

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/genui-chat/offline-worker/internal/fetch"
)

const (
	// ClientCookie 保存浏览器标签页所属的客户端 ID。
	ClientCookie = "ow_client"
	// ClientHeader 允许非浏览器调用方显式指定客户端 ID。
	ClientHeader = "X-Worker-Client"
)

// buildRequest 把 Fiber 请求转为 fetch.Request。URL 由协议与 Host 头组成，
// 代理式的绝对 URI 请求行同样被识别为其目标源。
func buildRequest(c fiber.Ctx) (*fetch.Request, error) {
	raw := c.BaseURL() + c.OriginalURL()
	if full := string(c.Request().RequestURI()); strings.HasPrefix(full, "http://") || strings.HasPrefix(full, "https://") {
		raw = full
	}

	req, err := fetch.NewRequest(c.Method(), raw)
	if err != nil {
		return nil, err
	}
	req.Header = fiberHeadersAsHTTP(c)
	req.Mode = fetch.ResolveMode(req.Method, req.Header)
	if body := c.Body(); len(body) > 0 {
		req.Body = append([]byte(nil), body...)
	}
	return req, nil
}

// resolveClientID 依次读取请求头与 cookie。导航请求缺少 ID 时分配新的客户端并下发 cookie。
func resolveClientID(c fiber.Ctx, navigation bool) string {
	if id := strings.TrimSpace(c.Get(ClientHeader)); id != "" {
		return id
	}
	if id := strings.TrimSpace(c.Cookies(ClientCookie)); id != "" {
		return id
	}
	if !navigation {
		return ""
	}
	id := uuid.NewString()
	c.Cookie(&fiber.Cookie{
		Name:     ClientCookie,
		Value:    id,
		Path:     "/",
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return id
}

// fiberHeadersAsHTTP 复制浏览器请求头，丢弃连接层字段：压缩协商交给上游客户端，
// 否则同一资源会因 Accept-Encoding 不同而与预缓存记录失配。
func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		name := string(key)
		if fetch.IsTransportHeader(name) {
			return
		}
		header.Add(name, string(value))
	})
	return header
}
