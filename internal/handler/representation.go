package handler

import (
	"fmt"
	"net/http"

	"go-wiki-engine/internal/middleware"
)

// Formats and views understood by the representation tables.
const (
	FormatHTML  = "html"
	FormatJSON  = "json"
	FormatText  = "txt"
	FormatAtom  = "atom"
	ViewDefault = "default"
)

type repKey struct {
	format string
	view   string
}

// representer writes v in one representation.
type representer[T any] func(h *PageHandler, w http.ResponseWriter, r *http.Request, v T) *middleware.AppError

// representations maps a (format, view) pair to the function writing it.
type representations[T any] map[repKey]representer[T]

// UnknownRepresentationError is returned when neither the requested view
// nor the default view of the format is available.
type UnknownRepresentationError struct {
	Format string
	View   string
}

func (e *UnknownRepresentationError) Error() string {
	return fmt.Sprintf("unknown representation %s/%s", e.Format, e.View)
}

// lookup returns the representer of rep. An unknown view falls back to the
// default view of the same format; an unknown format is an error.
func (t representations[T]) lookup(rep middleware.Representation) (representer[T], error) {
	format, view := rep.Format, rep.View
	if format == "" {
		format = FormatHTML
	}
	if view == "" {
		view = ViewDefault
	}
	if fn, ok := t[repKey{format, view}]; ok {
		return fn, nil
	}
	if fn, ok := t[repKey{format, ViewDefault}]; ok {
		return fn, nil
	}
	return nil, &UnknownRepresentationError{Format: format, View: view}
}

// serve writes v in the representation requested by r.
func (t representations[T]) serve(h *PageHandler, w http.ResponseWriter, r *http.Request, v T) *middleware.AppError {
	fn, err := t.lookup(middleware.GetRepresentation(r.Context()))
	if err != nil {
		return &middleware.AppError{Error: err, Message: err.Error(), Code: http.StatusBadRequest}
	}
	return fn(h, w, r, v)
}
