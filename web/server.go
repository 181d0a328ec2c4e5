package web

import (
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
)

// NewServer creates and configures the RWeb server
func NewServer(addr string) *rweb.Server {
	s := rweb.NewServer(rweb.ServerOptions{
		Address: addr,
		Verbose: true,
	})

	// Apply middleware
	s.Use(rweb.RequestInfo)          // Logs request info
	s.Use(CorsMiddleware)            // CORS headers
	s.Use(SecurityHeadersMiddleware) // Security headers
	s.Use(JWTAuthMiddleware)         // Token validation (non-blocking)
	s.Use(LoggingMiddleware)         // Request logging

	setupRoutes(s)

	return s
}

// Run starts the server
func Run(s *rweb.Server, addr string) error {
	logger.Info("CardNotes server starting", "address", addr)
	return s.Run()
}
