package middleware

import (
	"fmt"
	"net/http"

	"go-wiki-engine/internal/logger"
	"go-wiki-engine/internal/view"
)

// AppError represents a custom error type for the application.
type AppError struct {
	Error   error
	Message string
	Code    int
	// Problems are shown to the user as a list below the message.
	Problems []string
}

// AppHandler is a custom handler function type that returns an AppError.
type AppHandler func(http.ResponseWriter, *http.Request) *AppError

// Error is a middleware that converts handler errors into user-friendly error pages.
func Error(log logger.Logger, v *view.View) func(AppHandler) http.Handler {
	return func(next AppHandler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					err, ok := rec.(error)
					if !ok {
						err = fmt.Errorf("%v", rec)
					}
					log.Error(err, "Panic recovered")
					render(w, r, log, v, &AppError{Code: http.StatusInternalServerError, Message: "Internal Server Error"})
				}
			}()

			if err := next(w, r); err != nil {
				l := log.With(map[string]interface{}{"path": r.URL.Path, "status": err.Code})
				if err.Code >= http.StatusInternalServerError {
					l.Error(err.Error, err.Message)
				} else {
					l.Debug(err.Message)
				}
				render(w, r, log, v, err)
			}
		})
	}
}

func render(w http.ResponseWriter, r *http.Request, log logger.Logger, v *view.View, e *AppError) {
	data := map[string]interface{}{
		"Title":      http.StatusText(e.Code),
		"StatusCode": e.Code,
		"StatusText": http.StatusText(e.Code),
		"Message":    e.Message,
		"Problems":   e.Problems,
		"UserInfo":   GetUserInfo(r.Context()),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(e.Code)
	if err := v.Render(w, "error.html", data); err != nil {
		log.Error(err, "Failed to render error page")
	}
}
