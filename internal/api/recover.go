package api

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/book-expert/logger"
)

// Recover turns a panicking handler into a 500 carrying the panic message.
func Recover(log *logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}

			if recovered == http.ErrAbortHandler {
				panic(recovered)
			}

			if log != nil {
				log.Error("Panic serving %s %s: %v\n%s", r.Method, r.URL.Path, recovered, debug.Stack())
			}

			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: fmt.Sprint(recovered)})
		}()

		next.ServeHTTP(w, r)
	})
}
