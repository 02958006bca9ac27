package proxy

import (
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/valyala/fasthttp"

	"github.com/genui-chat/offline-worker/internal/fetch"
)

func TestBuildRequestInfersNavigation(t *testing.T) {
	app := fiber.New()
	defer app.Shutdown()

	ctx := app.AcquireCtx(new(fasthttp.RequestCtx))
	defer app.ReleaseCtx(ctx)
	ctx.Request().SetRequestURI("/chat/1?x=1")
	ctx.Request().Header.SetHost("app.test")
	ctx.Request().Header.Set("Accept", "text/html,application/xhtml+xml")

	req, err := buildRequest(ctx)
	if err != nil {
		t.Fatalf("buildRequest failed: %v", err)
	}
	if req.URL.String() != "http://app.test/chat/1?x=1" {
		t.Fatalf("unexpected url %s", req.URL)
	}
	if req.Mode != fetch.ModeNavigate {
		t.Fatalf("expected navigate mode, got %s", req.Mode)
	}
}

func TestBuildRequestDropsTransportHeaders(t *testing.T) {
	app := fiber.New()
	defer app.Shutdown()

	ctx := app.AcquireCtx(new(fasthttp.RequestCtx))
	defer app.ReleaseCtx(ctx)
	ctx.Request().SetRequestURI("/")
	ctx.Request().Header.SetHost("app.test")
	ctx.Request().Header.Set("Accept", "text/html")
	ctx.Request().Header.Set("Accept-Encoding", "gzip, deflate, br")
	ctx.Request().Header.Set("Connection", "keep-alive")
	ctx.Request().Header.Set("Cookie", "session=abc")

	req, err := buildRequest(ctx)
	if err != nil {
		t.Fatalf("buildRequest failed: %v", err)
	}
	for _, key := range []string{"Accept-Encoding", "Connection", "Host"} {
		if v := req.Header.Get(key); v != "" {
			t.Fatalf("%s should be dropped, got %q", key, v)
		}
	}
	if req.Header.Get("Accept") != "text/html" {
		t.Fatalf("semantic headers must survive: %v", req.Header)
	}
	if req.Header.Get("Cookie") != "session=abc" {
		t.Fatalf("cookie must still reach the upstream: %v", req.Header)
	}
}

func TestBuildRequestCopiesBody(t *testing.T) {
	app := fiber.New()
	defer app.Shutdown()

	ctx := app.AcquireCtx(new(fasthttp.RequestCtx))
	defer app.ReleaseCtx(ctx)
	ctx.Request().SetRequestURI("/api/messages")
	ctx.Request().Header.SetHost("app.test")
	ctx.Request().Header.SetMethod(fiber.MethodPost)
	ctx.Request().SetBodyString(`{"text":"hi"}`)

	req, err := buildRequest(ctx)
	if err != nil {
		t.Fatalf("buildRequest failed: %v", err)
	}
	if req.Method != fiber.MethodPost || string(req.Body) != `{"text":"hi"}` {
		t.Fatalf("unexpected request %s %q", req.Method, req.Body)
	}
	if req.IsNavigation() {
		t.Fatalf("POST without navigate header is not a navigation")
	}
}

func TestResolveClientIDPrefersHeader(t *testing.T) {
	app := fiber.New()
	defer app.Shutdown()

	ctx := app.AcquireCtx(new(fasthttp.RequestCtx))
	defer app.ReleaseCtx(ctx)
	ctx.Request().Header.Set(ClientHeader, "tab-9")
	ctx.Request().Header.SetCookie(ClientCookie, "tab-cookie")

	if got := resolveClientID(ctx, true); got != "tab-9" {
		t.Fatalf("expected header client id, got %s", got)
	}
}

func TestResolveClientIDAssignsOnNavigation(t *testing.T) {
	app := fiber.New()
	defer app.Shutdown()

	ctx := app.AcquireCtx(new(fasthttp.RequestCtx))
	defer app.ReleaseCtx(ctx)

	if got := resolveClientID(ctx, false); got != "" {
		t.Fatalf("subresource without id should stay anonymous, got %s", got)
	}
	id := resolveClientID(ctx, true)
	if id == "" {
		t.Fatalf("navigation should be assigned a client id")
	}
	if cookie := string(ctx.Response().Header.PeekCookie(ClientCookie)); cookie == "" {
		t.Fatalf("expected Set-Cookie for assigned client id")
	}
}
