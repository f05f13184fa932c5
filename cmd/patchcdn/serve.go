package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/facebookgo/httpdown"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meigma/patchcdn"
)

// apiServer exposes an Index over HTTP.
type apiServer struct {
	loader *patchcdn.BundleLoader
	index  *patchcdn.Index
	logger *slog.Logger
}

func (a *app) serve(ctx context.Context) error {
	s := &apiServer{loader: a.loader, index: a.index, logger: a.logger}

	// The API stays up without an index so a bad version can be corrected
	// through POST /patch.
	if err := a.index.LoadIndex(ctx); err != nil {
		a.logger.Warn("initial index load failed", "patch", a.cfg.Patch, "error", err)
	}

	h := httpdown.HTTP{StopTimeout: 10 * time.Second, KillTimeout: time.Second}
	srv, err := h.ListenAndServe(&http.Server{
		Addr:              a.cfg.Serve.Addr,
		Handler:           s.routes(a.reg),
		ReadHeaderTimeout: 10 * time.Second,
	})
	if err != nil {
		return err
	}
	a.logger.Info("listening", "addr", a.cfg.Serve.Addr)

	done := make(chan error, 1)
	go func() { done <- srv.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		a.logger.Info("shutting down")
		if err := srv.Stop(); err != nil {
			return err
		}
		return <-done
	}
}

func (s *apiServer) routes(reg *prometheus.Registry) http.Handler {
	r := httprouter.New()
	r.GET("/dirs/*path", s.dirHandler)
	r.GET("/files/*path", s.fileHandler)
	r.GET("/progress", s.progressHandler)
	r.POST("/patch/:version", s.patchHandler)
	r.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return r
}

type dirResponse struct {
	Path  string   `json:"path"`
	Dirs  []string `json:"dirs"`
	Files []string `json:"files"`
}

func (s *apiServer) dirHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	p := ps.ByName("path")
	content, err := s.index.GetDirContent(p)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dirResponse{Path: p, Dirs: content.Dirs, Files: content.Files})
}

func (s *apiServer) fileHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	data, err := s.index.LoadFileContent(r.Context(), strings.TrimPrefix(ps.ByName("path"), "/"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

type progressResponse struct {
	Patch         string `json:"patch"`
	BundleName    string `json:"bundle_name"`
	TotalSize     int64  `json:"total_size"`
	Received      int64  `json:"received"`
	IsDownloading bool   `json:"is_downloading"`
}

func (s *apiServer) progressHandler(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	p, _ := s.loader.Progress()
	writeJSON(w, http.StatusOK, progressResponse{
		Patch:         s.loader.Patch(),
		BundleName:    p.BundleName,
		TotalSize:     p.TotalSize,
		Received:      p.Received,
		IsDownloading: p.IsDownloading,
	})
}

type patchResponse struct {
	Patch string `json:"patch"`
	Files int    `json:"files"`
}

func (s *apiServer) patchHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	version := ps.ByName("version")
	prev := s.loader.Patch()
	if err := s.loader.SetPatch(r.Context(), version); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.index.LoadIndex(r.Context()); err != nil {
		// The published index still describes prev.
		if prev != "" && prev != version {
			if rerr := s.loader.SetPatch(context.WithoutCancel(r.Context()), prev); rerr != nil {
				s.logger.Error("restoring patch version", "version", prev, "error", rerr)
			}
		}
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, patchResponse{Patch: version, Files: s.index.Tables().FileCount()})
}

func (s *apiServer) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, patchcdn.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, patchcdn.ErrNotLoaded):
		status = http.StatusServiceUnavailable
	case errors.Is(err, patchcdn.ErrNetwork):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
