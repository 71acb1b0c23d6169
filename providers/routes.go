package providers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"golang.org/x/sync/errgroup"
)

// RegisterRoutes registers the replication info route via Fiber.
// Upgrades go through FastHTTPHandler, since Fiber v3 does not expose
// *fasthttp.RequestCtx.
func (p *ReplicationPlugin) RegisterRoutes(group fiber.Router) {
	group.Get("/replication/info", p.handleInfo)
}

func (p *ReplicationPlugin) handleInfo(c fiber.Ctx) error {
	active, limit := p.service.Capacity()
	return c.JSON(fiber.Map{
		"active":           active,
		"max_replications": limit,
		"handles":          p.bridge.SessionCount(),
		"replications":     p.service.ActiveReplications(),
		"cluster":          p.service.ClusterView(),
	})
}

// FastHTTPHandler returns the raw fasthttp handler for replication upgrades.
func (p *ReplicationPlugin) FastHTTPHandler() fasthttp.RequestHandler {
	return p.server.Handler()
}

// MetricsHandler serves the Prometheus registry.
func (p *ReplicationPlugin) MetricsHandler() fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
}

// Handler routes /metrics, /api/* and replication upgrades.
func (p *ReplicationPlugin) Handler() fasthttp.RequestHandler {
	app := fiber.New()
	p.RegisterRoutes(app.Group("/api"))
	api := app.Handler()
	metricsHandler := p.MetricsHandler()
	upgrade := p.FastHTTPHandler()

	return func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())
		switch {
		case path == "/metrics":
			metricsHandler(ctx)
		case strings.HasPrefix(path, "/api/"):
			api(ctx)
		default:
			upgrade(ctx)
		}
	}
}

// Serve listens on addr until ctx is cancelled.
func (p *ReplicationPlugin) Serve(ctx context.Context, addr string) error {
	srv := &fasthttp.Server{
		Handler:            p.Handler(),
		Name:               "replication",
		MaxRequestBodySize: 1 << 20,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p.logger.Info().Str("addr", addr).Msg("replication server listening")
		return srv.ListenAndServe(addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		return srv.Shutdown()
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
