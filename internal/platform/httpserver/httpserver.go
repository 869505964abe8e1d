package httpserver

import (
	"net/http"
	"time"
)

// New builds the HTTP server hosting the delegation API. Access checks are
// fast point lookups, so the timeouts are tight; slow clients must not pin
// connections while agents wait on authorization.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
}
