package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func newRouter(a *api, corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(10 * time.Minute))

		r.Post("/deals", a.createDeal)
		r.Get("/deals", a.listDeals)

		r.Route("/deals/{id}", func(r chi.Router) {
			r.Get("/", a.getDeal)
			r.Post("/documents", a.uploadDocument)
			r.Get("/documents", a.listDocuments)
			r.Get("/assumptions", a.listAssumptions)
			r.Post("/benchmarks", a.generateBenchmarks)
			r.Post("/validate", a.validate)
			r.Get("/validations", a.listValidations)
			r.Post("/comps:search", a.searchComps)
			r.Get("/comps", a.listComps)
			r.Post("/pipeline", a.startPipeline)
			r.Get("/pipeline", a.pipelineStatus)
			r.Delete("/pipeline", a.cancelPipeline)
		})

		r.Post("/documents/quick-extract", a.quickExtract)
		r.Get("/documents/{id}/fields", a.documentFields)
	})

	return r
}
