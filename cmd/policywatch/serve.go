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

	"github.com/openonco/policywatch/internal/model"
	"github.com/openonco/policywatch/internal/proposal"
	"github.com/openonco/policywatch/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the proposal review HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		queue := initQueue(st)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: reviewRouter(st, queue),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting review server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func reviewRouter(st store.Store, queue *proposal.Queue) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/proposals", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		proposals, err := queue.List(req.Context(), store.ProposalFilter{
			Status: model.ProposalStatus(q.Get("status")),
			Type:   model.ProposalType(q.Get("type")),
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, proposals)
	})

	r.Get("/proposals/{id}", func(w http.ResponseWriter, req *http.Request) {
		p, err := queue.Get(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	})

	review := func(act func(ctx context.Context, id string) (*model.Proposal, error)) http.HandlerFunc {
		return func(w http.ResponseWriter, req *http.Request) {
			p, err := act(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				// Invalid transitions and unknown ids both land here; the
				// client gets the reason either way.
				writeError(w, http.StatusConflict, err)
				return
			}
			zap.L().Info("proposal reviewed",
				zap.String("id", p.ID),
				zap.String("status", string(p.Status)))
			writeJSON(w, http.StatusOK, p)
		}
	}

	r.Post("/proposals/{id}/approve", review(queue.Approve))
	r.Post("/proposals/{id}/reject", review(queue.Reject))
	r.Post("/proposals/{id}/apply", review(queue.Apply))

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
