package api

import (
	"log"
	"net/http"

	"github.com/strefethen/sonos-bridge-go/internal/apperrors"
)

// Handler adapts handlers that return errors into http.Handler. Returned
// errors are rendered through apperrors, so a player fault surfaces with its
// device error code.
type Handler func(w http.ResponseWriter, r *http.Request) error

func (handler Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := handler(w, r); err != nil {
		WriteError(w, r, err)
	}
}

// Recoverer converts panics in a handler into 500 responses and logs them
// with the request's correlation token.
func Recoverer(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if recovered := recover(); recovered != nil {
					logger.Printf("API: panic in %s %s [%s]: %v", r.Method, r.URL.Path, Correlation(r), recovered)
					WriteError(w, r, apperrors.NewInternalError("Internal server error"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
