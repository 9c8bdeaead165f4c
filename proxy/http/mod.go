// Package http implements the proxy with an HTTP server routed by gorilla/mux.
// Every request gets an identifier, taken from the X-Request-Id header when
// the client provides one, and is logged once it is served.
package http

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"go.dedis.ch/votex"
	"golang.org/x/xerrors"
)

type key int

const requestIDKey key = 0

// RequestIDHeader is the header of the request identifier.
const RequestIDHeader = "X-Request-Id"

const shutdownTimeout = 10 * time.Second

// HTTP is a proxy backed by an HTTP server.
//
// - implements proxy.Proxy
type HTTP struct {
	sync.Mutex

	// Handlers can be registered while the server is running.
	routesLock sync.RWMutex
	router     *mux.Router
	server     *http.Server
	logger     zerolog.Logger
	listenAddr string
	ln         net.Listener
	quit       chan struct{}
}

// NewHTTP creates a new proxy for the address. An empty address listens on a
// random port.
func NewHTTP(listenAddr string) *HTTP {
	logger := votex.Logger.With().Str("role", "http proxy").Logger()

	router := mux.NewRouter()
	router.Use(tracing(func() string { return xid.New().String() }), logging(logger))

	h := &HTTP{
		router:     router,
		logger:     logger,
		listenAddr: listenAddr,
		quit:       make(chan struct{}, 1),
	}

	h.server = &http.Server{
		Addr:              listenAddr,
		Handler:           http.HandlerFunc(h.serve),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return h
}

// Listen implements proxy.Proxy. A proxy listens only once.
func (h *HTTP) Listen() {
	ln, err := net.Listen("tcp", h.listenAddr)
	if err != nil {
		h.logger.Error().Err(err).Msgf("failed to create conn '%s'", h.listenAddr)
		return
	}

	h.Lock()
	h.ln = ln
	h.Unlock()

	done := make(chan struct{})

	go func() {
		defer close(done)

		<-h.quit

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		h.server.SetKeepAlivesEnabled(false)

		err := h.server.Shutdown(ctx)
		if err != nil {
			h.logger.Err(err).Msg("could not gracefully shutdown the server")
		}
	}()

	h.logger.Info().Stringer("addr", ln.Addr()).Msg("server is ready to handle requests")

	err = h.server.Serve(ln)
	if err != nil && !xerrors.Is(err, http.ErrServerClosed) {
		h.logger.Err(err).Msg("server stopped unexpectedly")
		h.quit <- struct{}{}
	}

	<-done

	h.Lock()
	h.ln = nil
	h.Unlock()

	h.logger.Info().Msg("server stopped")
}

// Stop implements proxy.Proxy. It must be called only once.
func (h *HTTP) Stop() {
	h.quit <- struct{}{}
}

// GetAddr implements proxy.Proxy.
func (h *HTTP) GetAddr() net.Addr {
	h.Lock()
	defer h.Unlock()

	if h.ln == nil {
		return nil
	}

	return h.ln.Addr()
}

// RegisterHandler implements proxy.Proxy.
func (h *HTTP) RegisterHandler(path string, handler func(http.ResponseWriter, *http.Request)) {
	h.routesLock.Lock()
	defer h.routesLock.Unlock()

	h.router.HandleFunc(path, handler).Methods(http.MethodGet)
}

func (h *HTTP) serve(w http.ResponseWriter, r *http.Request) {
	h.routesLock.RLock()
	defer h.routesLock.RUnlock()

	h.router.ServeHTTP(w, r)
}

// RequestID returns the identifier of the request.
func RequestID(r *http.Request) string {
	id, ok := r.Context().Value(requestIDKey).(string)
	if !ok {
		return "unknown"
	}

	return id
}

// logging logs the requests once they are served.
func logging(logger zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			defer func() {
				logger.Info().
					Str("requestID", RequestID(r)).
					Str("method", r.Method).
					Str("url", r.URL.Path).
					Str("remoteAddr", r.RemoteAddr).
					Str("agent", r.UserAgent()).
					Dur("duration", time.Since(start)).
					Msg("request served")
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// tracing sets the identifier of the request in the context and in the
// response.
func tracing(nextRequestID func() string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = nextRequestID()
			}

			ctx := context.WithValue(r.Context(), requestIDKey, requestID)
			w.Header().Set(RequestIDHeader, requestID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
