package backend

import (
	"net/http"

	"github.com/jo-hoe/colorify/internal/core"
	"github.com/labstack/echo/v4"
)

// UploadLimit rejects request bodies larger than maxBytes with 413. A declared
// Content-Length is checked before the handler runs; bodies of unknown length are
// capped while being read.
func UploadLimit(maxBytes int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			request := ctx.Request()
			if request.ContentLength > maxBytes {
				return core.FileTooLarge(maxBytes, nil)
			}
			request.Body = http.MaxBytesReader(ctx.Response(), request.Body, maxBytes)
			return next(ctx)
		}
	}
}
