package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-marks/core"
)

var (
	errTooManyRequests = echo.NewHTTPError(http.StatusTooManyRequests, "too many requests")

	msgInvalidInput = "Invalid input"
	msgConflict     = "Conflicting write, please retry"
)

// errorResponse maps err to its status code and failure envelope.
// ok is false for errors that must stay opaque to the caller.
func errorResponse(err error) (code int, resp core.Response, ok bool) {
	var vErr *core.ValidationError
	var nfErr *core.NotFoundError
	var cErr *core.ConflictError
	var hErr *echo.HTTPError

	switch {
	case errors.As(err, &vErr):
		if vErr.Fields != nil {
			fldErrs := make(map[string]string, len(vErr.Fields))
			for _, fErr := range vErr.Fields {
				fldErrs[fErr.Field] = fErr.Error
			}
			return http.StatusBadRequest, core.Fail(msgInvalidInput, fldErrs), true
		}
		return http.StatusBadRequest, core.Fail(msgInvalidInput, vErr.Error()), true
	case errors.As(err, &nfErr):
		return http.StatusNotFound, core.Fail(nfErr.Error(), nil), true
	case errors.As(err, &cErr):
		return http.StatusConflict, core.Fail(msgConflict, nil), true
	case errors.As(err, &hErr):
		if hErr.Internal != nil {
			if herr, ok := hErr.Internal.(*echo.HTTPError); ok {
				hErr = herr
			}
		}
		msg, isStr := hErr.Message.(string)
		if !isStr {
			msg = http.StatusText(hErr.Code)
		}
		return hErr.Code, core.Fail(msg, nil), true
	}
	return http.StatusInternalServerError, core.Fail(http.StatusText(http.StatusInternalServerError), nil), false
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
func newAppHTTPErrorHandler(logger core.Logger) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		code, resp, ok := errorResponse(err)
		if !ok {
			if logger != nil {
				logger.Error(resp.Message, errors.Wrap(err, resp.Message), ctx.Request())
			}
			if ctx.Echo().Debug {
				resp.Error = err.Error()
			}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, resp)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}
