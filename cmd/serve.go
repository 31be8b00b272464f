package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/validation-cli/internal/extractor"
	"github.com/sells-group/validation-cli/internal/model"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the validation webhook server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST"},
			AllowedHeaders: []string{"Content-Type"},
		}))

		r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
			if err := env.Store.Ping(req.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Handle("/metrics", promhttp.Handler())

		r.Post("/v1/validate", func(w http.ResponseWriter, req *http.Request) {
			var artifact extractor.Artifact
			if err := json.NewDecoder(req.Body).Decode(&artifact); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid artifact body"})
				return
			}
			if artifact.ID == "" {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "artifact id is required"})
				return
			}

			// Scoring can take minutes with an external evaluator; run it
			// detached and let callers poll the workflow.
			go func() {
				wf, err := env.Orchestrator.Start(ctx, &artifact)
				if err != nil {
					zap.L().Error("webhook validation failed",
						zap.String("artifact_id", artifact.ID),
						zap.Error(err),
					)
					return
				}
				zap.L().Info("webhook validation complete",
					zap.String("workflow_id", wf.ID),
					zap.String("status", string(wf.Status)),
				)
			}()

			writeJSON(w, http.StatusAccepted, map[string]string{
				"status":      "accepted",
				"artifact_id": artifact.ID,
			})
		})

		r.Post("/v1/workflows/{id}/resume", func(w http.ResponseWriter, req *http.Request) {
			id := chi.URLParam(req, "id")
			var artifact extractor.Artifact
			if err := json.NewDecoder(req.Body).Decode(&artifact); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid artifact body"})
				return
			}

			go func() {
				wf, err := env.Orchestrator.Resume(ctx, id, &artifact)
				if err != nil {
					zap.L().Error("webhook resume failed",
						zap.String("workflow_id", id),
						zap.Error(err),
					)
					return
				}
				zap.L().Info("webhook resume complete",
					zap.String("workflow_id", wf.ID),
					zap.String("status", string(wf.Status)),
				)
			}()

			writeJSON(w, http.StatusAccepted, map[string]string{
				"status":      "accepted",
				"workflow_id": id,
			})
		})

		r.Get("/v1/workflows/{id}", func(w http.ResponseWriter, req *http.Request) {
			wf, err := env.Orchestrator.Get(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, wf)
		})

		r.Get("/v1/workflows", func(w http.ResponseWriter, req *http.Request) {
			wfs, err := env.Orchestrator.List(req.Context(), model.WorkflowFilter{
				Status:     model.WorkflowStatus(req.URL.Query().Get("status")),
				ArtifactID: req.URL.Query().Get("artifact"),
				Limit:      100,
			})
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, wfs)
		})

		r.Get("/v1/disagreements", func(w http.ResponseWriter, req *http.Request) {
			ds, err := env.Disagreements.List(req.Context(), model.DisagreementFilter{
				Status:   model.DisagreementStatus(req.URL.Query().Get("status")),
				Severity: model.Severity(req.URL.Query().Get("severity")),
				Limit:    100,
			})
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, ds)
		})

		// Resolution callback for review tooling that received an
		// escalation from the review queue.
		r.Post("/v1/disagreements/{id}/resolve", func(w http.ResponseWriter, req *http.Request) {
			var res model.Resolution
			if err := json.NewDecoder(req.Body).Decode(&res); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid resolution payload"})
				return
			}
			d, err := env.Disagreements.Resolve(req.Context(), chi.URLParam(req, "id"), res)
			if err != nil {
				writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, d)
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
