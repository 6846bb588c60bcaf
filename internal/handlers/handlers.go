package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/ctg-triage/internal/ctg"
	"github.com/example/ctg-triage/internal/flow"
	"github.com/example/ctg-triage/internal/metrics"
	"github.com/example/ctg-triage/internal/report"
	"github.com/example/ctg-triage/internal/session"
	"github.com/example/ctg-triage/internal/usecase"
)

// MaxUploadSize is the largest accepted image in bytes.
const MaxUploadSize = 10 << 20

// multipart framing allowance on top of MaxUploadSize
const multipartOverhead = 64 << 10

const msgDashboardFailed = "Unable to load dashboard data."

// Sessions is the registry of capture page sessions.
type Sessions interface {
	Create() *flow.Flow
	Get(id string) (*flow.Flow, error)
	Remove(id string) error
}

// ResultLoader loads the result page.
type ResultLoader interface {
	Load(ctx context.Context, handoffID string) (*usecase.ResultView, error)
}

// DashboardLoader loads the dashboard.
type DashboardLoader interface {
	Load(ctx context.Context) (*usecase.DashboardView, error)
}

// Dependencies are the collaborators behind the routes. Metrics may be nil.
type Dependencies struct {
	Sessions  Sessions
	Results   ResultLoader
	Dashboard DashboardLoader
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, deps Dependencies) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handler{deps: deps, logger: logger.Named("handlers")}

	router.Use(RequestID(), AccessLog(logger))
	if deps.Metrics != nil {
		router.Use(deps.Metrics.Middleware())
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	scan := router.Group("/scan/sessions")
	scan.POST("", h.createSession)
	scan.GET("/:id", h.withFlow(h.view))
	scan.DELETE("/:id", h.leave)
	scan.POST("/:id/image", h.withFlow(h.selectImage))
	scan.DELETE("/:id/image", h.withFlow(h.discard))
	scan.POST("/:id/camera", h.withFlow(h.startCapture))
	scan.POST("/:id/camera/photo", h.withFlow(h.takePhoto))
	scan.DELETE("/:id/camera", h.withFlow(h.cancelCapture))
	scan.POST("/:id/submit", h.withFlow(h.submit))

	router.GET("/result", h.result)
	router.GET("/result/:handoff", h.result)

	router.GET("/dashboard", h.dashboard)
	router.GET("/dashboard/export.xlsx", h.exportDashboard)
}

type handler struct {
	deps   Dependencies
	logger *zap.Logger
}

func (h *handler) withFlow(fn func(*gin.Context, *flow.Flow)) gin.HandlerFunc {
	return func(c *gin.Context) {
		f, err := h.deps.Sessions.Get(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		fn(c, f)
	}
}

func (h *handler) createSession(c *gin.Context) {
	f := h.deps.Sessions.Create()
	c.JSON(http.StatusCreated, f.View())
}

func (h *handler) view(c *gin.Context, f *flow.Flow) {
	c.JSON(http.StatusOK, f.View())
}

func (h *handler) leave(c *gin.Context) {
	if err := h.deps.Sessions.Remove(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) selectImage(c *gin.Context, f *flow.Flow) {
	img, status, err := readUpload(c)
	if err != nil {
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	h.respond(c, f, f.SelectImage(img))
}

func (h *handler) discard(c *gin.Context, f *flow.Flow) {
	h.respond(c, f, f.Discard())
}

func (h *handler) startCapture(c *gin.Context, f *flow.Flow) {
	h.respond(c, f, f.StartCapture(c.Request.Context()))
}

func (h *handler) takePhoto(c *gin.Context, f *flow.Flow) {
	h.respond(c, f, f.TakePhoto(c.Request.Context()))
}

func (h *handler) cancelCapture(c *gin.Context, f *flow.Flow) {
	h.respond(c, f, f.CancelCapture())
}

func (h *handler) submit(c *gin.Context, f *flow.Flow) {
	handoffID, err := f.Submit(c.Request.Context())
	if err != nil {
		h.respond(c, f, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"view":       f.View(),
		"result_url": "/result/" + handoffID,
	})
}

// respond renders the session view with a status that reflects err.
func (h *handler) respond(c *gin.Context, f *flow.Flow, err error) {
	status := http.StatusOK
	switch {
	case err == nil:
	case errors.Is(err, ctg.ErrNoImage):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, flow.ErrBusy), errors.Is(err, flow.ErrInvalidTransition), errors.Is(err, flow.ErrLeft):
		status = http.StatusConflict
	case errors.Is(err, ctg.ErrCameraPermission), errors.Is(err, ctg.ErrCameraUnavailable):
	case strings.HasPrefix(c.FullPath(), "/scan/sessions/:id/camera"):
	default:
		status = http.StatusBadGateway
	}
	if err != nil {
		_ = c.Error(err)
	}
	c.JSON(status, f.View())
}

func (h *handler) result(c *gin.Context) {
	view, err := h.deps.Results.Load(c.Request.Context(), c.Param("handoff"))
	status := http.StatusOK
	if err != nil && !errors.Is(err, ctg.ErrNoImage) {
		_ = c.Error(err)
		status = http.StatusBadGateway
	}
	c.JSON(status, view)
}

func (h *handler) dashboard(c *gin.Context) {
	view, err := h.deps.Dashboard.Load(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadGateway, gin.H{"error": msgDashboardFailed})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *handler) exportDashboard(c *gin.Context) {
	view, err := h.deps.Dashboard.Load(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadGateway, gin.H{"error": msgDashboardFailed})
		return
	}
	buf, err := report.Dashboard(view)
	if err != nil {
		h.logger.Error("failed to render dashboard workbook", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to render workbook"})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="dashboard.xlsx"`)
	c.Data(http.StatusOK, report.ContentType, buf.Bytes())
}

// readUpload extracts the "image" form file, enforcing the size limit and an image type.
func readUpload(c *gin.Context) (*ctg.Image, int, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+multipartOverhead)

	file, err := c.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, http.StatusRequestEntityTooLarge, errors.New("image exceeds upload limit")
		}
		return nil, http.StatusBadRequest, errors.New("image file is required")
	}
	if file.Size > MaxUploadSize {
		return nil, http.StatusRequestEntityTooLarge, errors.New("image exceeds upload limit")
	}

	src, err := file.Open()
	if err != nil {
		return nil, http.StatusBadRequest, errors.New("unable to open image")
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, http.StatusInternalServerError, errors.New("failed to read image")
	}
	if len(data) == 0 {
		// the flow rejects it and queues the warning
		return &ctg.Image{Name: file.Filename}, http.StatusOK, nil
	}

	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return nil, http.StatusUnsupportedMediaType, fmt.Errorf("unsupported content type %s", mtype.String())
	}
	return &ctg.Image{Name: file.Filename, ContentType: mtype.String(), Data: data}, http.StatusOK, nil
}

var _ Sessions = (*session.Registry)(nil)
