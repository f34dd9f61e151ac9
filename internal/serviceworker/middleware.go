package serviceworker

import (
	"github.com/labstack/echo/v4"
)

// Middleware intercepts requests for the active worker. Requests the worker
// does not handle, or any request while no worker is active, continue to
// next.
func (r *Registration) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			w := r.Active()
			if w == nil {
				return next(c)
			}
			req := c.Request()
			resp, handled := w.Handle(req.Context(), req)
			if !handled {
				return next(c)
			}
			return writeResponse(c, resp)
		}
	}
}

func writeResponse(c echo.Context, resp *Response) error {
	h := c.Response().Header()
	for k, vs := range resp.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	contentType := resp.Header.Get(echo.HeaderContentType)
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	return c.Blob(resp.Status, contentType, resp.Body)
}
