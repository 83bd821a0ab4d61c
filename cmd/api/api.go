package main

import (
	"html/template"
	"net/http"
	"time"

	"github.com/farxc/spm-results/internal/incentive"
	"github.com/farxc/spm-results/internal/logger"
	"github.com/farxc/spm-results/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type application struct {
	config    config
	pipeline  *incentive.Pipeline
	store     *store.Storage // nil when run history is disabled
	appLogger *logger.Logger
	pages     *template.Template
}

type config struct {
	addr         string
	devMode      bool
	apiBaseURL   string
	fetchTimeout time.Duration
	batchTimeout time.Duration
	pageSize     int
	logLevel     string
	db           dbConfig
}

type dbConfig struct {
	addr         string
	maxOpenConns int
	maxIdleConns int
	maxIdleTime  string
}

// requestTimeout bounds a whole request; it must outlast the batch timeout.
func (cfg config) requestTimeout() time.Duration {
	return cfg.batchTimeout + 15*time.Second
}

func (app *application) mount() (http.Handler, error) {
	pages, err := parsePages()
	if err != nil {
		return nil, err
	}
	app.pages = pages

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&requestLogFormatter{appLogger: app.appLogger}))
	r.Use(middleware.Recoverer)

	// Cancels the request context, and every in-flight upstream fetch with it.
	r.Use(middleware.Timeout(app.config.requestTimeout()))

	r.Get("/", app.handleForm)
	r.Post("/results", app.handleResultsPage)
	r.Post("/results.csv", app.handleResultsCSVForm)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", app.healthCheckHandler)
		r.Route("/results", func(r chi.Router) {
			r.Post("/", app.handleGetResults)
			r.Post("/csv", app.handleGetResultsCSV)
		})
		r.Route("/extractions", func(r chi.Router) {
			r.Get("/history", app.handleGetExtractionHistory)
		})
	})

	return r, nil
}

func (app *application) run(mux http.Handler) error {
	timeout := app.config.requestTimeout()

	srv := &http.Server{
		Addr:         app.config.addr,
		Handler:      mux,
		WriteTimeout: timeout + 10*time.Second,
		ReadTimeout:  time.Second * 40,
		IdleTimeout:  time.Minute,
	}

	app.appLogger.Info("Server", "Server started on %s (devMode=%t)", app.config.addr, app.config.devMode)
	return srv.ListenAndServe()
}
