package backend

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jo-hoe/colorify/internal/core"
	"github.com/labstack/echo/v4"
)

const (
	APIPrefix   = "/api"
	ServiceName = "Colorify Manga API"
	Version     = "1.0.0"

	HealthPath = APIPrefix + "/health"
)

type APIService struct {
	config      *core.ServiceConfig
	coreService *core.CoreService
}

type historyRequest struct {
	UserID string `param:"userId" validate:"required"`
	Limit  int    `query:"limit" validate:"gte=1"`
}

func NewAPIService(config *core.ServiceConfig, coreService *core.CoreService) *APIService {
	return &APIService{
		config:      config,
		coreService: coreService,
	}
}

func (service *APIService) SetRoutes(e *echo.Echo) {
	e.HTTPErrorHandler = service.errorHandler

	api := e.Group(APIPrefix)
	api.GET("", service.rootHandler)
	api.GET("/health", service.healthHandler)
	api.GET("/ready", service.readyHandler)

	api.POST("/colorize", service.colorizeHandler, UploadLimit(service.config.MaxFileSize))
	api.GET("/colorizations/:userId", service.historyHandler)
	api.DELETE("/colorizations/:id", service.deleteHandler)
	api.GET("/users/:userId", service.userHandler)
}

func (service *APIService) rootHandler(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]any{
		"message": ServiceName,
		"version": Version,
		"endpoints": map[string]string{
			"health":   HealthPath,
			"colorize": APIPrefix + "/colorize",
			"history":  APIPrefix + "/colorizations/{user_id}",
			"user":     APIPrefix + "/users/{user_id}",
		},
	})
}

func (service *APIService) healthHandler(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": ServiceName,
		"version": Version,
	})
}

// readyHandler reports whether the database answers.
func (service *APIService) readyHandler(ctx echo.Context) error {
	if err := service.coreService.Ping(ctx.Request().Context()); err != nil {
		slog.Warn("readyHandler: database ping failed", "error", err)
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Database unavailable")
	}
	return ctx.JSON(http.StatusOK, map[string]string{"status": "ready"})
}

func (service *APIService) colorizeHandler(ctx echo.Context) error {
	file, err := ctx.FormFile("file")
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return core.FileTooLarge(maxBytesErr.Limit, err)
		}
		return echo.NewHTTPError(http.StatusBadRequest, "Missing image file in form field 'file'").SetInternal(err)
	}
	slog.Info("colorizeHandler: received colorization request", "filename", file.Filename, "size", file.Size)

	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("failed to open uploaded file %s: %w", file.Filename, err)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			slog.Error("colorizeHandler: failed to close uploaded file reader", "error", cerr, "filename", file.Filename)
		}
	}()

	colorization, err := service.coreService.Colorize(ctx.Request().Context(), core.ColorizeRequest{
		ContentType: file.Header.Get(echo.HeaderContentType),
		Image:       src,
		UserID:      ctx.FormValue("user_id"),
		ModelID:     ctx.FormValue("model_id"),
	})
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, colorization)
}

func (service *APIService) historyHandler(ctx echo.Context) error {
	request := historyRequest{Limit: service.config.HistoryLimit}
	if err := ctx.Bind(&request); err != nil {
		return err
	}
	if err := ctx.Validate(&request); err != nil {
		return err
	}

	colorizations, err := service.coreService.History(ctx.Request().Context(), request.UserID, request.Limit)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, colorizations)
}

func (service *APIService) deleteHandler(ctx echo.Context) error {
	id := ctx.Param("id")
	if err := service.coreService.DeleteColorization(ctx.Request().Context(), id); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, map[string]string{"message": "Colorization deleted successfully"})
}

func (service *APIService) userHandler(ctx echo.Context) error {
	profile, err := service.coreService.GetUserProfile(ctx.Request().Context(), ctx.Param("userId"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, profile)
}

// errorHandler renders every failure as {"detail": "..."}.
func (service *APIService) errorHandler(err error, ctx echo.Context) {
	if ctx.Response().Committed {
		return
	}

	status, message := errorResponse(err)
	route := ctx.Path()
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "status", status, "route", route, "error", err)
	} else {
		slog.Warn("request rejected", "status", status, "route", route, "error", err)
	}

	var writeErr error
	if ctx.Request().Method == http.MethodHead {
		writeErr = ctx.NoContent(status)
	} else {
		writeErr = ctx.JSON(status, map[string]string{"detail": message})
	}
	if writeErr != nil {
		slog.Error("errorHandler: failed to write error response", "error", writeErr)
	}
}

func errorResponse(err error) (int, string) {
	if coreErr := core.AsError(err); coreErr != nil {
		return coreErr.Kind.StatusCode(), coreErr.Message
	}
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code, fmt.Sprint(httpErr.Message)
	}
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		tooLarge := core.FileTooLarge(maxBytesErr.Limit, err)
		return tooLarge.Kind.StatusCode(), tooLarge.Message
	}
	unexpected := core.Unexpected(err)
	return unexpected.Kind.StatusCode(), unexpected.Message
}
