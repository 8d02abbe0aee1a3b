package middleware

import (
	"context"
	"net/http"
)

type settingsKey string

const representationKey settingsKey = "representation"

// Representation is the (format, view) pair a client asked for. Empty
// fields leave the choice to the resource.
type Representation struct {
	Format string
	View   string
}

// RepresentationMiddleware reads the "_type" and "view" query parameters
// and stores them in the request context.
func RepresentationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		rep := Representation{Format: q.Get("_type"), View: q.Get("view")}
		ctx := context.WithValue(r.Context(), representationKey, rep)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRepresentation returns the representation requested, or the zero value
// when the middleware did not run.
func GetRepresentation(ctx context.Context) Representation {
	rep, _ := ctx.Value(representationKey).(Representation)
	return rep
}
