// routes_serve.go - Server-Start und Lifecycle-Management
// Enthaelt: Serve() - Hauptfunktion zum Starten des HTTP-Servers, preload()

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/tensorio/bridge/envconfig"
	"github.com/tensorio/bridge/logutil"
	"github.com/tensorio/bridge/ml"
	"github.com/tensorio/bridge/version"
)

// Serve startet den HTTP-Server auf ln und blockiert bis SIGINT/SIGTERM
func Serve(ln net.Listener) error {
	slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))
	slog.Info("server config", "env", envconfig.Values())

	engine, err := ml.DefaultEngine()
	if err != nil {
		return err
	}

	s := newServer(ln.Addr(), engine)

	ctx, done := context.WithCancel(context.Background())
	defer done()

	if err := s.preload(ctx, envconfig.Preload()); err != nil {
		s.bundles.unloadAll()
		return err
	}

	slog.Info(fmt.Sprintf("Listening on %s (version %s)", ln.Addr(), version.Version))
	srvr := &http.Server{Handler: s.GenerateRoutes()}

	// bei ctrl+c alle Bundles entladen
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		srvr.Close()
		s.bundles.unloadAll()
		done()
	}()

	err = srvr.Serve(ln)
	// Wurde der Server vom Signal-Handler geschlossen, auf das Entladen warten
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-ctx.Done()
	return nil
}

// parsePreload zerlegt einen TIO_PRELOAD-Eintrag "pfad" oder "pfad:modus"
func parsePreload(entry string) (string, ml.Mode) {
	if i := strings.LastIndex(entry, ":"); i > 0 {
		if mode, err := ml.ParseMode(entry[i+1:]); err == nil && entry[i+1:] != "" {
			return entry[:i], mode
		}
	}
	return entry, ml.ModeServe
}

// preload laedt die Bundles aus TIO_PRELOAD parallel. Schlaegt eines fehl,
// startet der Server nicht.
func (s *Server) preload(ctx context.Context, entries []string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(int(max(1, envconfig.NumParallel())))

	for _, entry := range entries {
		path, mode := parsePreload(entry)
		g.Go(func() error {
			lb, err := s.load(ctx, bundlePath(path), mode)
			if err != nil {
				return fmt.Errorf("preload %s: %w", entry, err)
			}

			slog.Info("preloaded bundle", "id", lb.id, "bundle", lb.path, "mode", mode)
			return nil
		})
	}

	return g.Wait()
}
