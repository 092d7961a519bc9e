// Package webui exposes node status over HTTP: JSON endpoints for the
// session and stored authorizations, Prometheus metrics, and optional
// pprof.
package webui

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/urfave/negroni"

	_ "net/http/pprof"
)

// FrontendConfig configures the status endpoint.
type FrontendConfig struct {
	ListenAddr  string
	EnablePprof bool
}

// StartHttpServer starts the status endpoint in the background.
func StartHttpServer(config *FrontendConfig, logger logrus.FieldLogger, provider StatusProvider) {
	// init router
	router := mux.NewRouter()

	handler := NewStatusHandler(provider, logger)
	router.HandleFunc("/", handler.Overview).Methods("GET")
	router.HandleFunc("/api/status", handler.Overview).Methods("GET")
	router.HandleFunc("/api/session", handler.Session).Methods("GET")
	router.HandleFunc("/api/authorizations", handler.Authorizations).Methods("GET")

	// metrics endpoint
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// add pprof handler
	if config.EnablePprof {
		router.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)
	}

	n := negroni.New()
	n.Use(negroni.NewRecovery())
	n.UseHandler(router)

	addr := config.ListenAddr
	if addr == "" {
		addr = "127.0.0.1:8080"
	}
	srv := &http.Server{
		Addr:        addr,
		IdleTimeout: 120 * time.Second,
		Handler:     n,
	}

	logger.WithField("addr", srv.Addr).Info("http server listening")
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal(fmt.Sprintf("error serving status endpoint on %s", srv.Addr))
		}
	}()
}
