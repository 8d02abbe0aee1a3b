package handler

import (
	"errors"
	"net/http"

	"go-wiki-engine/internal/content"
	"go-wiki-engine/internal/graph"
	"go-wiki-engine/internal/middleware"
	"go-wiki-engine/internal/schema"
	"go-wiki-engine/internal/service"
	"go-wiki-engine/internal/toc"
)

// appError maps an error returned by the page service to the response
// shown to the client. message is used for unexpected errors only.
func appError(err error, message string) *middleware.AppError {
	var (
		verr      *content.ValidationError
		schemaErr *content.InvalidSchemaDataError
		typeErr   *schema.UnknownTypeError
		outline   *toc.InvalidOutlineError
		anchor    *toc.DuplicateAnchorError
		cycle     *graph.CircularRedirectError
		stale     *service.StaleRevisionError
		conflict  *service.ConflictError
		perm      *service.PermissionError
	)
	switch {
	case errors.As(err, &verr):
		return &middleware.AppError{Error: err, Message: "The page was not saved.", Code: http.StatusNotAcceptable, Problems: verr.Problems}
	case errors.As(err, &schemaErr):
		return &middleware.AppError{Error: err, Message: "Invalid structured data.", Code: http.StatusNotAcceptable, Problems: schemaErr.Names()}
	case errors.As(err, &typeErr), errors.As(err, &outline), errors.As(err, &anchor), errors.As(err, &cycle):
		return &middleware.AppError{Error: err, Message: err.Error(), Code: http.StatusNotAcceptable}
	case errors.As(err, &stale), errors.As(err, &conflict):
		return &middleware.AppError{Error: err, Message: err.Error(), Code: http.StatusConflict}
	case errors.As(err, &perm):
		return &middleware.AppError{Error: err, Message: "You are not allowed to do that.", Code: http.StatusForbidden}
	}
	return &middleware.AppError{Error: err, Message: message, Code: http.StatusInternalServerError}
}
