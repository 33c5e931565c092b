package rest

import (
	"crypto/rsa"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter returns a configured chi.Router for the watchdog-collectord
// dashboard API.
//
// Route layout:
//
//	GET  /healthz                  – liveness probe (no authentication required)
//	GET  /api/v1/reports           – paginated profile report query (authenticated)
//	GET  /api/v1/hosts             – list all hosts (authenticated)
//	POST /api/v1/ingest/register   – reporter host registration (authenticated)
//	POST /api/v1/ingest/reports    – reporter batch ingest (authenticated)
//
// Exactly one of pubKey or staticToken should be set. pubKey, when non-nil,
// validates RS256 Bearer tokens; staticToken, when non-empty, validates a
// single shared bearer secret instead, for deployments with no JWT issuer.
// Passing both nil/empty disables authentication, useful in tests that cover
// only request parsing and response formatting.
func NewRouter(srv *Server, pubKey *rsa.PublicKey, staticToken string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", srv.handleHealthz)

	r.Route("/api/v1", func(r chi.Router) {
		switch {
		case pubKey != nil:
			r.Use(JWTMiddleware(pubKey))
		case staticToken != "":
			r.Use(StaticTokenMiddleware(staticToken))
		}

		r.Get("/reports", srv.handleGetReports)
		r.Get("/hosts", srv.handleGetHosts)

		r.Route("/ingest", func(r chi.Router) {
			r.Post("/register", srv.handleRegisterHost)
			r.Post("/reports", srv.handleIngestReports)
		})
	})

	return r
}
