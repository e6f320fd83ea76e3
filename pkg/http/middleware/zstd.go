package middleware

import (
	"bufio"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/labstack/echo/v4"
)

var encoderPool = sync.Pool{
	New: func() any {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		return enc
	},
}

type zstdResponseWriter struct {
	http.ResponseWriter
	encoder *zstd.Encoder
}

func (w *zstdResponseWriter) Write(b []byte) (int, error) {
	return w.encoder.Write(b)
}

func (w *zstdResponseWriter) WriteHeader(code int) {
	w.Header().Del(echo.HeaderContentLength)
	w.ResponseWriter.WriteHeader(code)
}

func (w *zstdResponseWriter) Flush() {
	_ = w.encoder.Flush()
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *zstdResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(w.ResponseWriter).Hijack()
}

// Zstd compresses responses for clients that send Accept-Encoding: zstd.
// Websocket upgrades are passed through untouched.
func Zstd() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.Contains(req.Header.Get(echo.HeaderAcceptEncoding), "zstd") ||
				strings.EqualFold(req.Header.Get(echo.HeaderUpgrade), "websocket") {
				return next(c)
			}

			res := c.Response()
			enc := encoderPool.Get().(*zstd.Encoder)
			enc.Reset(res.Writer)
			defer encoderPool.Put(enc)

			res.Header().Set(echo.HeaderContentEncoding, "zstd")
			res.Header().Add(echo.HeaderVary, echo.HeaderAcceptEncoding)
			orig := res.Writer
			res.Writer = &zstdResponseWriter{ResponseWriter: orig, encoder: enc}
			defer func() {
				_ = enc.Close()
				res.Writer = orig
			}()
			return next(c)
		}
	}
}
