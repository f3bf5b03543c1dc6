package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dreamware/vortex/internal/config"
	"github.com/dreamware/vortex/internal/coordinator"
	"github.com/dreamware/vortex/internal/factstore"
	"github.com/dreamware/vortex/internal/syncstore"
	"github.com/dreamware/vortex/internal/task"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "vortex-coordinator",
		Short: "Runs the Vortex Cluster Coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a YAML config overlay")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	log := logrus.NewEntry(logrus.StandardLogger())

	facts, err := factstore.Open(factstore.Config{Dir: cfg.FactStoreDir, Logger: log.WithField("component", "factstore")})
	if err != nil {
		return fmt.Errorf("opening fact store: %w", err)
	}
	defer facts.Close()

	store := syncstore.NewMemory()

	coord := coordinator.New(facts, store, coordinator.Config{
		RevokeDelay: cfg.RevokeDelay,
		Logger:      log.WithField("component", "coordinator"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	coord.Start(ctx)
	defer coord.Stop()

	srv := newServer(coord, store, facts, log)
	mux := http.NewServeMux()
	mux.HandleFunc("/peers", srv.handleRegisterPeer)
	mux.HandleFunc("/peers/pulse", srv.handleDeletePulse)
	mux.HandleFunc("/peers/payload", srv.handleReadPayload)
	mux.HandleFunc("/jobs", srv.handlePlanJob)
	mux.HandleFunc("/ack", srv.handleAck)
	mux.HandleFunc("/complete", srv.handleComplete)
	mux.HandleFunc("/failures", srv.handleFailures)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	httpSrv := &http.Server{
		Addr:              cfg.CoordinatorAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.CoordinatorAddr).Info("coordinator listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("listen")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	log.Info("coordinator stopped")
	return nil
}

// server holds the HTTP front door that drives the coordinator's channel
// inputs from the wire. It exists only to exercise planning-ch/ack-ch/etc.
// from outside the process — the coordinator itself owns every invariant.
type server struct {
	coord *coordinator.Coordinator
	store syncstore.Store
	facts *factstore.Store
	log   *logrus.Entry
}

func newServer(coord *coordinator.Coordinator, store syncstore.Store, facts *factstore.Store, log *logrus.Entry) *server {
	return &server{coord: coord, store: store, facts: facts, log: log}
}

func (s *server) handleRegisterPeer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	peerPath, err := s.store.Create(syncstore.KindPeer)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	pulsePath, err := s.store.Create(syncstore.KindPulse)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	shutdownPath, err := s.store.Create(syncstore.KindShutdown)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	reg, err := json.Marshal(struct {
		Pulse    string `json:"pulse"`
		Shutdown string `json:"shutdown"`
		Payload  string `json:"payload"`
	}{Pulse: pulsePath, Shutdown: shutdownPath})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := s.store.WritePlace(peerPath, reg); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := s.coord.BornPeer(r.Context(), peerPath); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"peer":     peerPath,
		"pulse":    pulsePath,
		"shutdown": shutdownPath,
	})
}

func (s *server) handleDeletePulse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	pulsePath := r.URL.Query().Get("path")
	if pulsePath == "" {
		http.Error(w, "missing path", http.StatusBadRequest)
		return
	}
	if err := s.store.Delete(pulsePath); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReadPayload lets a peer process poll its own assignment node over
// the wire. Not one of spec.md's internal contracts — the internal
// sync store lives inside this process — but the minimal surface a
// peer binary running elsewhere needs to ever see an offer.
func (s *server) handleReadPayload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		http.Error(w, "missing path", http.StatusBadRequest)
		return
	}
	value, err := s.store.ReadPlace(path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(value)
}

func (s *server) handlePlanJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Catalog  []task.CatalogEntry `json:"catalog"`
		Workflow task.Workflow       `json:"workflow"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	jobID, err := s.coord.Plan(r.Context(), req.Catalog, req.Workflow)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *server) handleAck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path := r.URL.Query().Get("path")
	if err := s.coord.Ack(r.Context(), path); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleComplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path := r.URL.Query().Get("path")
	if err := s.coord.Complete(r.Context(), path); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleFailures tails the failure-mult subscriber: useful for debugging and
// tests, not a stable wire contract.
func (s *server) handleFailures(w http.ResponseWriter, r *http.Request) {
	ch, cancel := s.coord.SubscribeFailure()
	defer cancel()

	ctx := r.Context()
	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			_ = json.NewEncoder(w).Encode(ev)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
