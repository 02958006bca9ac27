package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/genui-chat/offline-worker/internal/fetch"
	"github.com/genui-chat/offline-worker/internal/logging"
	"github.com/genui-chat/offline-worker/internal/server"
	"github.com/genui-chat/offline-worker/internal/worker"
)

// viaToken 标记经由本进程透传的请求，用于发现转发回环。
const viaToken = "1.1 offline-worker"

// Controllers 为客户端挑选控制它的 worker；返回 nil 表示不拦截。
type Controllers interface {
	Controller(clientID string, navigation bool) *worker.Worker
}

// Handler 把 HTTP 请求翻译为 fetch 事件交给 worker，worker 不拦截的请求原样透传。
type Handler struct {
	controllers Controllers
	network     fetch.Fetcher
	scope       *url.URL
	logger      *logrus.Logger
}

// NewHandler constructs a proxy handler. network 用于透传，与 worker 共用同一个 Fetcher。
func NewHandler(controllers Controllers, network fetch.Fetcher, scope *url.URL, logger *logrus.Logger) *Handler {
	return &Handler{
		controllers: controllers,
		network:     network,
		scope:       scope,
		logger:      logger,
	}
}

// outcome 汇总一次请求的处理结果，供 logResult 输出。
type outcome struct {
	version  string
	clientID string
	strategy worker.Strategy
	source   fetch.Source
	status   int
}

// Handle 实现 server.ProxyHandler。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)

	req, err := buildRequest(c)
	if err != nil {
		h.logResult(c, requestID, outcome{}, started, err)
		return h.writeError(c, fiber.StatusBadRequest, "invalid_request")
	}

	clientID := resolveClientID(c, req.IsNavigation())
	res := outcome{clientID: clientID, strategy: worker.StrategyPassthrough}

	w := h.controllers.Controller(clientID, req.IsNavigation())
	if w == nil {
		return h.passthrough(c, req, requestID, res, started)
	}

	res.version = w.Config().Version
	res.strategy = w.Route(req)
	resp, intercepted, err := w.HandleFetch(w.NewFetchEvent(requestContext(c), req, clientID))
	if !intercepted {
		return h.passthrough(c, req, requestID, res, started)
	}
	if err != nil {
		h.logResult(c, requestID, res, started, err)
		if errors.Is(err, worker.ErrOffline) {
			return h.writeError(c, fiber.StatusServiceUnavailable, "offline")
		}
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}

	res.source = resp.Source
	res.status = resp.Status
	err = writeResponse(c, resp)
	h.logResult(c, requestID, res, started, err)
	return err
}

// passthrough 把请求原样交给网络：跨源请求发往其自身的源，未受控客户端的同源请求发往上游。
func (h *Handler) passthrough(c fiber.Ctx, req *fetch.Request, requestID string, res outcome, started time.Time) error {
	if !fetch.SameOrigin(req.URL, h.scope) && strings.Contains(req.Header.Get("Via"), viaToken) {
		err := errors.New("passthrough loop detected")
		h.logResult(c, requestID, res, started, err)
		return h.writeError(c, fiber.StatusLoopDetected, "loop_detected")
	}
	req.Header.Add("Via", viaToken)

	resp, err := h.network.Fetch(requestContext(c), req)
	if err != nil {
		h.logResult(c, requestID, res, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	res.source = resp.Source
	res.status = resp.Status
	err = writeResponse(c, resp)
	h.logResult(c, requestID, res, started, err)
	return err
}

func requestContext(c fiber.Ctx) context.Context {
	if ctx := c.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(c fiber.Ctx, requestID string, res outcome, started time.Time, err error) {
	fields := logging.RequestFields(
		res.version,
		res.clientID,
		string(res.strategy),
		string(res.source),
		res.source == fetch.SourceCache || res.source == fetch.SourceFallback,
	)
	fields["action"] = "fetch"
	fields["method"] = c.Method()
	fields["path"] = c.Path()
	fields["status"] = res.status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("fetch_failed")
		return
	}
	h.logger.WithFields(fields).Info("fetch_complete")
}

// writeResponse 消费 resp 并写回客户端，X-Worker-Source 标记响应来源。
func writeResponse(c fiber.Ctx, resp *fetch.Response) error {
	body, err := resp.Body()
	if err != nil {
		return err
	}
	defer body.Close()

	copyResponseHeaders(c, resp.Header)
	if resp.Source != "" {
		c.Set("X-Worker-Source", string(resp.Source))
	}
	c.Status(resp.Status)

	if c.Method() == http.MethodHead {
		return nil
	}
	if _, err := io.Copy(c.Response().BodyWriter(), body); err != nil {
		return fiber.NewError(fiber.StatusBadGateway, "read response failed: "+err.Error())
	}
	return nil
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if fetch.IsHopByHopHeader(key) || strings.EqualFold(key, fiber.HeaderContentLength) {
			continue
		}
		for i, value := range values {
			if i == 0 {
				c.Set(key, value)
				continue
			}
			c.Response().Header.Add(key, value)
		}
	}
}
