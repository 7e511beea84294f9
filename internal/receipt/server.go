package receipt

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/zombor/receipt-extractor/internal/batch"
)

// Server handles HTTP requests for receipt extraction
type Server struct {
	service   *Service
	ingestor  batch.Ingestor
	basicAuth BasicAuth
	mux       *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, ingestor batch.Ingestor, basicAuth BasicAuth) *Server {
	return NewServerWithMux(service, ingestor, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, ingestor batch.Ingestor, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	if ingestor == nil {
		ingestor = batch.ScanIngestor{}
	}
	s := &Server{
		service:   service,
		ingestor:  ingestor,
		basicAuth: basicAuth,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials. No credentials configured means open access.
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}

	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.basicAuth.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.basicAuth.Password)) == 1
	return userOK && passOK
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="Receipt Extractor"`)
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all routes on the server's mux
func (s *Server) registerRoutes() {
	// Method dispatch happens in the handler so OPTIONS and 405 carry CORS headers and JSON bodies
	s.mux.HandleFunc("/api/extract-receipts", s.handleExtractReceipts)
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	if s.service.metrics != nil {
		s.mux.Handle("GET /metrics", s.service.metrics.Handler())
	}
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
