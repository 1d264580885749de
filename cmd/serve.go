package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/seo-pipeline/internal/model"
	"github.com/sells-group/seo-pipeline/internal/queue"
	"github.com/sells-group/seo-pipeline/internal/stage"
)

var (
	servePort   int
	serveWorker bool
)

// websiteLookup is the store subset the trigger endpoint needs.
type websiteLookup interface {
	GetWebsite(ctx context.Context, id string) (*model.Website, error)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// newRouter builds the trigger API.
func newRouter(sites websiteLookup, pub queue.Publisher) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/websites/{id}/scan", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		debug := r.URL.Query().Get("debug") == "true"

		site, err := sites.GetWebsite(r.Context(), id)
		if err != nil {
			zap.L().Error("website lookup failed", zap.String("website_id", id), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
			return
		}
		if site == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "website not found"})
			return
		}

		job, err := stage.Trigger(r.Context(), pub, site.ID, debug)
		if err != nil {
			zap.L().Error("trigger failed", zap.String("website_id", id), zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "enqueue failed"})
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":     "accepted",
			"website_id": site.ID,
			"job_id":     job.ID,
		})
	})

	return r
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP trigger server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		// The memory backend has no other consumer.
		if serveWorker || cfg.Queue.Backend == "memory" {
			w := newWorker(env, nil)
			go func() {
				if err := w.Run(ctx); err != nil {
					zap.L().Error("embedded worker stopped", zap.Error(err))
				}
			}()
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(env.Store, env.Broker),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveWorker, "worker", false, "also consume the stage queues in this process")
	rootCmd.AddCommand(serveCmd)
}
