package middleware

import (
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/clinic-voice-booking/pkg/logging"
)

// RequestLogger writes one line per request after the handler returns.
// Webhook lines carry the Twilio CallSid so a call can be followed across
// turns; chi's RequestID middleware supplies request_id.
func RequestLogger(logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			began := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			attrs := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("elapsed", time.Since(began)),
			}
			if id := chimw.GetReqID(r.Context()); id != "" {
				attrs = append(attrs, slog.String("request_id", id))
			}
			// Only read the form once the handler parsed it; the body is gone.
			if r.PostForm != nil {
				if sid := r.PostForm.Get("CallSid"); sid != "" {
					attrs = append(attrs, slog.String("call_sid", sid))
				}
			}

			msg, level := "request completed", slog.LevelInfo
			if status >= http.StatusInternalServerError {
				msg, level = "request failed", slog.LevelError
			}
			logger.Log(r.Context(), level, msg, attrs...)
		})
	}
}
