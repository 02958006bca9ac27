package routes

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/genui-chat/offline-worker/internal/cache"
	"github.com/genui-chat/offline-worker/internal/server"
	"github.com/genui-chat/offline-worker/internal/worker"
)

// WorkerRoutes 汇总 /-/worker 诊断与控制接口的依赖。
type WorkerRoutes struct {
	Registration *worker.Registration
	Storage      cache.Storage
	Gatherer     prometheus.Gatherer
	Logger       *logrus.Logger
}

// RegisterWorkerRoutes 暴露 worker 状态、缓存列表、控制消息、后台同步与按需更新接口，
// Gatherer 非空时额外挂载 /-/metrics。
func RegisterWorkerRoutes(app *fiber.App, deps WorkerRoutes) {
	if app == nil || deps.Registration == nil {
		return
	}
	reg := deps.Registration

	app.Get("/-/worker", func(c fiber.Ctx) error {
		return c.JSON(reg.Status())
	})

	if deps.Storage != nil {
		app.Get("/-/worker/caches", func(c fiber.Ctx) error {
			payload, err := encodeCaches(c, deps.Storage)
			if err != nil {
				return fiber.NewError(fiber.StatusInternalServerError, err.Error())
			}
			return c.JSON(fiber.Map{"caches": payload})
		})
	}

	app.Post("/-/worker/message", func(c fiber.Ctx) error {
		target := worker.TargetActive
		if strings.EqualFold(c.Query("target"), string(worker.TargetWaiting)) {
			target = worker.TargetWaiting
		}
		wait := queryBool(c, "wait")

		data := append([]byte(nil), c.Body()...)
		if err := reg.PostMessage(c.Context(), target, data, wait); err != nil {
			if errors.Is(err, worker.ErrNoWorker) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "worker_not_found", "target": target})
			}
			logWorkerRouteError(deps.Logger, c, "worker_message", err)
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"target": target, "settled": wait})
	})

	app.Post("/-/worker/sync/:tag", func(c fiber.Ctx) error {
		tag := strings.TrimSpace(c.Params("tag"))
		if tag == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "sync_tag_required"})
		}
		acknowledged, err := reg.Sync(c.Context(), tag, queryBool(c, "wait"))
		if err != nil {
			if errors.Is(err, worker.ErrNoWorker) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "worker_not_found"})
			}
			logWorkerRouteError(deps.Logger, c, "worker_sync", err)
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"tag": tag, "acknowledged": acknowledged})
	})

	app.Post("/-/worker/update", func(c fiber.Ctx) error {
		installed, err := reg.Update(c.Context())
		if err != nil {
			logWorkerRouteError(deps.Logger, c, "worker_update", err)
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "update_failed", "detail": err.Error()})
		}
		return c.JSON(fiber.Map{"installed": installed, "status": reg.Status()})
	})

	if deps.Gatherer != nil {
		app.Get("/-/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}
}

type cachePayload struct {
	Name    string   `json:"name"`
	Entries []string `json:"entries"`
}

func encodeCaches(c fiber.Ctx, storage cache.Storage) ([]cachePayload, error) {
	ctx := c.Context()
	names, err := storage.Keys(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]cachePayload, 0, len(names))
	for _, name := range names {
		handle, err := storage.Open(ctx, name)
		if err != nil {
			return nil, err
		}
		entries, err := handle.Keys(ctx)
		if err != nil {
			return nil, err
		}
		if entries == nil {
			entries = []string{}
		}
		result = append(result, cachePayload{Name: name, Entries: entries})
	}
	return result, nil
}

func queryBool(c fiber.Ctx, key string) bool {
	v, err := strconv.ParseBool(c.Query(key))
	return err == nil && v
}

func logWorkerRouteError(logger *logrus.Logger, c fiber.Ctx, action string, err error) {
	if logger == nil {
		return
	}
	logger.WithFields(logrus.Fields{
		"action":     action,
		"request_id": server.RequestID(c),
	}).WithError(err).Warn("worker_route_failed")
}
