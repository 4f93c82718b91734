package api

import (
	"time"

	models "github.com/AgeeKey/mirai-agent-sub000/internal/domain/models"
	domrepo "github.com/AgeeKey/mirai-agent-sub000/internal/domain/repository"
	domsvc "github.com/AgeeKey/mirai-agent-sub000/internal/domain/service"
	"github.com/AgeeKey/mirai-agent-sub000/internal/service/metrics"
	"github.com/AgeeKey/mirai-agent-sub000/internal/usecase"
	xhttp "github.com/AgeeKey/mirai-agent-sub000/pkg/http"
	xlogger "github.com/AgeeKey/mirai-agent-sub000/pkg/logger"

	"github.com/labstack/echo/v4"
)

// EngineEchoHandler exposes the engine's read-only surface: current regime,
// effective parameters, effective safety action, and the audit logs.
type EngineEchoHandler struct {
	logger      *xlogger.Logger
	engine      *usecase.Engine
	classifier  domsvc.RegimeClassifier
	controller  domsvc.AdaptationController
	safety      domsvc.SafetyEngine
	snapshots   domrepo.SnapshotStore
	adaptations domrepo.AdaptationStore
	activations domrepo.ActivationStore
}

func NewEngineEchoHandler(
	logger *xlogger.Logger,
	engine *usecase.Engine,
	classifier domsvc.RegimeClassifier,
	controller domsvc.AdaptationController,
	safety domsvc.SafetyEngine,
	snapshots domrepo.SnapshotStore,
	adaptations domrepo.AdaptationStore,
	activations domrepo.ActivationStore,
) *EngineEchoHandler {
	metrics.Register()
	return &EngineEchoHandler{
		logger:      logger,
		engine:      engine,
		classifier:  classifier,
		controller:  controller,
		safety:      safety,
		snapshots:   snapshots,
		adaptations: adaptations,
		activations: activations,
	}
}

func (h *EngineEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/regime", h.Regime)
	g.GET("/snapshots", h.Snapshots)
	g.GET("/parameters", h.Parameters)
	g.GET("/safety", h.Safety)
	g.GET("/adaptations", h.Adaptations)
	g.GET("/activations", h.Activations)
	g.GET("/size", h.Size)
	e.GET("/healthz", h.Healthz)
}

func (h *EngineEchoHandler) Regime(c echo.Context) error {
	defer observe("regime", time.Now())
	req := &models.RegimeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	snap, ok := h.classifier.Current(req.Symbol)
	if !ok {
		// cold start: fall back to the last persisted snapshot
		var err error
		snap, err = h.snapshots.Latest(c.Request().Context(), req.Symbol)
		if err != nil {
			h.logger.Warn("regime lookup miss", xlogger.String("symbol", req.Symbol), xlogger.Error(err))
			return xhttp.NotFoundResponse(c, "no regime for symbol")
		}
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, snap)
}

func (h *EngineEchoHandler) Snapshots(c echo.Context) error {
	req := &models.SnapshotsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	now := time.Now()
	from := xhttp.ParseTimeDefault(req.From, now.Add(-24*time.Hour))
	to := xhttp.ParseTimeDefault(req.To, now)

	rows, err := h.snapshots.Range(c.Request().Context(), req.Symbol, from, to)
	if err != nil {
		h.logger.Error("snapshot range error", xlogger.Error(err))
		countErr("snapshots")
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *EngineEchoHandler) Parameters(c echo.Context) error {
	defer observe("parameters", time.Now())
	req := &models.ParametersRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	params, version, err := h.controller.EffectiveParameters(c.Request().Context(), req.Strategy)
	if err != nil {
		h.logger.Warn("parameters lookup error", xlogger.String("strategy", req.Strategy), xlogger.Error(err))
		return xhttp.NotFoundResponse(c, "unknown strategy")
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"strategy":   req.Strategy,
		"version":    version,
		"parameters": params,
		"state":      h.controller.State(req.Strategy),
	})
}

func (h *EngineEchoHandler) Safety(c echo.Context) error {
	defer observe("safety", time.Now())
	req := &models.SafetyRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	now := time.Now()
	act, err := h.safety.EffectiveAction(c.Request().Context(), req.Key, now)
	if err != nil {
		h.logger.Error("effective action error", xlogger.String("key", req.Key), xlogger.Error(err))
		countErr("safety")
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"key":             req.Key,
		"action":          act,
		"restrictiveness": act.Restrictiveness(),
		"at":              now,
	})
}

// Size reports the position-size multiplier for a strategy on a symbol:
// the safety overlay composed on top of the adapted parameters.
func (h *EngineEchoHandler) Size(c echo.Context) error {
	defer observe("size", time.Now())
	req := &models.SizeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	mult, act, err := h.engine.SizeMultiplier(c.Request().Context(), req.Strategy, req.Symbol, time.Now())
	if err != nil {
		h.logger.Error("size multiplier error",
			xlogger.String("strategy", req.Strategy),
			xlogger.String("symbol", req.Symbol),
			xlogger.Error(err))
		countErr("size")
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"strategy":   req.Strategy,
		"symbol":     req.Symbol,
		"multiplier": mult,
		"action":     act,
	})
}

func (h *EngineEchoHandler) Adaptations(c echo.Context) error {
	req := &models.AdaptationsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	rows, err := h.adaptations.History(c.Request().Context(), req.Strategy, req.Limit)
	if err != nil {
		h.logger.Error("adaptation history error", xlogger.String("strategy", req.Strategy), xlogger.Error(err))
		countErr("adaptations")
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *EngineEchoHandler) Activations(c echo.Context) error {
	req := &models.ActivationsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	ctx := c.Request().Context()
	var (
		rows []models.SafetyActivation
		err  error
	)
	if req.ActiveOnly {
		rows, err = h.activations.ActiveAt(ctx, req.Key, time.Now())
	} else {
		rows, err = h.activations.History(ctx, req.Key, req.Limit)
	}
	if err != nil {
		h.logger.Error("activation query error", xlogger.String("key", req.Key), xlogger.Error(err))
		countErr("activations")
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *EngineEchoHandler) Healthz(c echo.Context) error {
	if err := h.snapshots.Health(c.Request().Context()); err != nil {
		h.logger.Error("health check failed", xlogger.Error(err))
		countErr("healthz")
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

func observe(endpoint string, start time.Time) {
	metrics.APILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func countErr(endpoint string) {
	metrics.APIErrors.WithLabelValues(endpoint).Inc()
}
