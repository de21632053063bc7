package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/licenceworks/hmo-audit/internal/model"
	"github.com/licenceworks/hmo-audit/internal/monitoring"
	"github.com/licenceworks/hmo-audit/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for document processing and status queries",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		limiter := rate.NewLimiter(rate.Limit(cfg.Server.RatePerSecond), cfg.Server.RateBurst)

		collector := monitoring.NewCollector(env.Store, env.Audit)
		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			go checker.Run(ctx)
		}

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))
		r.Use(rateLimit(limiter))

		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Post("/sessions", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Path string `json:"path"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
				return
			}
			if body.Path == "" {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "path is required"})
				return
			}

			// Processing continues after the response; poll the status
			// endpoint for progress. The server context bounds the run.
			go func() {
				if _, err := env.Pipeline.Process(ctx, body.Path); err != nil {
					zap.L().Error("api processing failed",
						zap.String("document", body.Path),
						zap.Error(err),
					)
				}
			}()

			writeJSON(w, http.StatusAccepted, map[string]string{
				"status":   "accepted",
				"document": body.Path,
			})
		})

		r.Get("/sessions", func(w http.ResponseWriter, req *http.Request) {
			filter := store.SessionFilter{Limit: 100}
			if status := req.URL.Query().Get("status"); status != "" {
				filter.Status = model.SessionStatus(status)
			}
			sessions, err := env.Store.ListSessions(req.Context(), filter)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list sessions failed"})
				return
			}
			writeJSON(w, http.StatusOK, sessions)
		})

		r.Get("/sessions/{id}/status", func(w http.ResponseWriter, req *http.Request) {
			s, err := env.Store.GetSession(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
				return
			}
			writeJSON(w, http.StatusOK, s.StatusView())
		})

		r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
			snap, err := collector.Collect(req.Context(), cfg.Monitoring.LookbackWindowHours)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "collect metrics failed"})
				return
			}
			writeJSON(w, http.StatusOK, snap)
		})

		r.Get("/reviews", func(w http.ResponseWriter, req *http.Request) {
			flagged := env.Audit.List(req.URL.Query().Get("session"))
			writeJSON(w, http.StatusOK, flagged)
		})

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port(servePort)),
			Handler: r,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port(servePort)))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func port(flag int) int {
	if flag != 0 {
		return flag
	}
	return cfg.Server.Port
}

// rateLimit rejects requests beyond the configured sustained rate with 429.
func rateLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !limiter.Allow() {
				writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
