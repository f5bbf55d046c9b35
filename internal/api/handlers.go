package api

import (
	"context"
	"net/http"
	"time"

	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/core"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type runService interface {
	Start(ctx context.Context, kind core.RunKind) (*core.Run, error)
	Get(ctx context.Context, id string) (*core.Run, error)
	List(ctx context.Context) ([]*core.Run, error)
	Live() service.Live
}

type handler struct {
	runs   runService
	logger *zap.Logger
}

const handlerTimeout = 30 * time.Second

func NewHandler(rs runService, logger *zap.Logger) *handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &handler{runs: rs, logger: logger}
}

func (h *handler) startRun(c *gin.Context) {
	req := StartRunRequest{}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequestResponse(c, err)
		return
	}

	// the run outlives the request
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	run, err := h.runs.Start(ctx, core.RunKind(req.Kind))
	if err != nil {
		h.errorResponse(c, err)
		return
	}
	SetRunID(c, run.ID)
	h.logger.Info("run accepted",
		zap.String("reqid", GetRequestID(c)),
		zap.String("run_id", run.ID),
		zap.String("kind", req.Kind),
	)
	c.Header("Location", "/runs/"+run.ID)
	c.JSON(http.StatusAccepted, NewRunResponse(run))
}

func (h *handler) getRun(c *gin.Context) {
	id := c.Param("id")
	SetRunID(c, id)
	ctx, canc := context.WithTimeout(c.Request.Context(), handlerTimeout)
	defer canc()

	run, err := h.runs.Get(ctx, id)
	if err != nil {
		h.errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, NewRunResponse(run))
}

func (h *handler) listRuns(c *gin.Context) {
	ctx, canc := context.WithTimeout(c.Request.Context(), handlerTimeout)
	defer canc()

	runs, err := h.runs.List(ctx)
	if err != nil {
		h.errorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, NewRunsListResponse(runs))
}

func (h *handler) status(c *gin.Context) {
	c.JSON(http.StatusOK, NewStatusResponse(h.runs.Live()))
}

func (h *handler) badRequestResponse(c *gin.Context, err error) {
	if c != nil && err != nil {
		c.Error(err) //nolint:errcheck
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error":   "bad request",
		"details": err.Error(),
	})
}

func (h *handler) errorResponse(c *gin.Context, err error) {
	if c != nil && err != nil {
		c.Error(err) //nolint:errcheck
	}
	if err == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": "internal server error",
		})
		return
	}

	if appErr, ok := core.AsAppError(err); ok {
		p := gin.H{
			"error": appErr.PublicMessage(),
			"code":  appErr.Code.String(),
		}
		if appErr.SafeToShow && appErr.Message != "" {
			p["details"] = appErr.Message
		}
		h.logger.Warn("handler error",
			zap.String("reqid", GetRequestID(c)),
			zap.String("run_id", GetRunID(c)),
			zap.String("error", err.Error()),
		)
		c.AbortWithStatusJSON(appErr.HTTPStatus(), p)
		return
	}

	h.logger.Error("handler unknown error",
		zap.String("reqid", GetRequestID(c)),
		zap.String("run_id", GetRunID(c)),
		zap.String("error", err.Error()),
	)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"error": "internal server error",
	})
}
