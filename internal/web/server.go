package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

//go:embed assets/*
var embeddedAssets embed.FS

// Deps are the pieces the HTTP surface serves. Nil members disable their
// routes.
type Deps struct {
	Status  *Status
	Logs    *LogBuffer
	Events  Subscriber
	Metrics http.Handler
	Logger  zerolog.Logger
}

func Handler(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(d.Logger))

	r.Route("/api", func(r chi.Router) {
		if d.Status != nil {
			r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, d.Status.Snapshot(time.Now().UTC()))
			})
		}
		if d.Logs != nil {
			r.Get("/logs", d.Logs.Handler().ServeHTTP)
		}
		if d.Events != nil {
			r.Get("/stream", StreamHandler(d.Events, d.Status, d.Logger).ServeHTTP)
		}
		r.Get("/about", AboutHandler().ServeHTTP)
	})

	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}

	assets, err := fs.Sub(embeddedAssets, "assets")
	if err == nil {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			b, err := fs.ReadFile(assets, "index.html")
			if err != nil {
				http.Error(w, "ui unavailable", http.StatusInternalServerError)
				return
			}
			w.Header().Set("Cache-Control", "no-store")
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write(b)
		})
	}
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("took", time.Since(start)).
				Msg("http request")
		})
	}
}

// Serve runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully. A cancelled context is a clean exit.
func Serve(ctx context.Context, listenAddr string, h http.Handler) error {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return err
	}
	return ServeListener(ctx, ln, h)
}

func ServeListener(ctx context.Context, ln net.Listener, h http.Handler) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
