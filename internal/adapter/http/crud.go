package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// writeList answers 200 with items, encoding a nil slice as [].
func writeList[T any](w http.ResponseWriter, items []T) {
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, items)
}

// listOf serves a list that takes no parameters.
func listOf[T any](list func(context.Context) ([]T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := list(r.Context())
		if err != nil {
			writeInternalError(w, err)
			return
		}
		writeList(w, items)
	}
}

// byID serves one resource looked up by the {id} route parameter.
func byID[T any](get func(context.Context, string) (*T, error), what string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err, what+" not found")
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

// actionOn runs fn on the {id} route parameter and answers 204.
func actionOn(fn func(context.Context, string) error, what string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeDomainError(w, err, what+" not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
