package main

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"packforge/internal/adapters/builds"
	"packforge/internal/config"
	"packforge/internal/core"
	"packforge/pkg/domain"
)

// readProfile decodes a YAML or JSON profile from path, or stdin for "-".
func readProfile(path string, stdin io.Reader) (domain.Profile, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return domain.Profile{}, fmt.Errorf("read profile: %w", err)
	}
	var p domain.Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return domain.Profile{}, fmt.Errorf("%w: %v", domain.ErrInvalidProfile, err)
	}
	return p, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func buildCmd(g *globalOptions) *cobra.Command {
	var (
		profilePath   string
		root          string
		parity        string
		deterministic bool
		overlaysPath  string
		noOverlays    bool
		lockTimeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Render, validate and commit a pack for a profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, g, cmd.ErrOrStderr(), true)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			profile, err := readProfile(profilePath, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if parity == "" {
				parity = a.cfg.Build.Parity
			}
			mode, err := domain.ParseParityMode(parity)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("deterministic") {
				deterministic = a.cfg.Build.Deterministic
			}
			if overlaysPath == "" && !noOverlays {
				overlaysPath = a.cfg.Overlays.File
			}
			if noOverlays {
				overlaysPath = ""
			}
			overlays, err := a.overlays(overlaysPath)
			if err != nil {
				return err
			}
			if root == "" {
				root = a.cfg.Build.OutputRoot
			}

			res, err := a.service.Build(ctx, core.BuildRequest{
				Profile:       profile,
				OutputRoot:    root,
				Overlays:      overlays,
				Parity:        mode,
				Deterministic: deterministic,
				LockTimeout:   lockTimeout,
			})
			var rejected *core.ParityRejectedError
			if errors.As(err, &rejected) {
				_ = printJSON(cmd.OutOrStdout(), rejected.Result)
				return err
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVarP(&profilePath, "profile", "p", "", "Profile file (YAML or JSON, - for stdin)")
	cmd.Flags().StringVar(&root, "root", "", "Output root (default from config)")
	cmd.Flags().StringVar(&parity, "parity", "", "Parity mode: strict or lenient (default from config)")
	cmd.Flags().BoolVar(&deterministic, "deterministic", false, "Pin timestamps and derive the build dir from content")
	cmd.Flags().StringVar(&overlaysPath, "overlays", "", "Overlay config file (default from config)")
	cmd.Flags().BoolVar(&noOverlays, "no-overlays", false, "Skip configured overlays")
	cmd.Flags().DurationVar(&lockTimeout, "lock-timeout", 0, "Wait this long for a busy output root")
	_ = cmd.MarkFlagRequired("profile")
	return cmd
}

func lastCmd(g *globalOptions) *cobra.Command {
	var root string
	cmd := &cobra.Command{
		Use:   "last",
		Short: "Print the last recorded build for an output root",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), g, cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			if root == "" {
				root = a.cfg.Build.OutputRoot
			}
			summary, ok := a.service.LastBuild(root)
			if !ok {
				return fmt.Errorf("%w: %s", domain.ErrBuildNotFound, root)
			}
			return printJSON(cmd.OutOrStdout(), summary)
		},
	}
	cmd.Flags().StringVar(&root, "root", "", "Output root (default from config)")
	return cmd
}

func archiveCmd(g *globalOptions) *cobra.Command {
	var (
		root   string
		dir    string
		out    string
		url    bool
		expiry time.Duration
	)
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Zip a committed build, or print a download URL for the last one",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, g, cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			if root == "" {
				root = a.cfg.Build.OutputRoot
			}
			if url {
				link, err := a.service.ArchiveURL(ctx, root, expiry)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), link)
				return err
			}

			res, err := a.service.PackageArchive(ctx, root, dir)
			if err != nil {
				return err
			}
			if out == "-" {
				_, err = cmd.OutOrStdout().Write(res.Data)
				a.logger.Info("archive written", slog.String("dir", res.DirName), slog.String("content_hash", res.ContentHash))
				return err
			}
			if out == "" {
				out = res.DirName + ".zip"
			}
			if err := os.WriteFile(out, res.Data, 0o644); err != nil {
				return fmt.Errorf("write archive: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", res.ContentHash, out)
			return err
		},
	}
	cmd.Flags().StringVar(&root, "root", "", "Output root (default from config)")
	cmd.Flags().StringVar(&dir, "dir", "", "Build directory name (default: last build)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default <dir>.zip, - for stdout)")
	cmd.Flags().BoolVar(&url, "url", false, "Print a presigned URL for the last published archive")
	cmd.Flags().DurationVar(&expiry, "expiry", 15*time.Minute, "Presigned URL lifetime")
	return cmd
}

func serveCmd(g *globalOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the build API and metrics over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, g, cmd.ErrOrStderr(), true)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			handler, err := newServeMux(ctx, a)
			if err != nil {
				return err
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
			}
			return runServer(ctx, srv, a.logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	return cmd
}

// newServeMux mounts the build API, metrics and a health probe. When overlay
// watching is enabled the handler reads the watcher's current config per
// request.
func newServeMux(ctx context.Context, a *app) (*http.ServeMux, error) {
	h := builds.NewHandler(a.service, builds.Defaults{
		OutputRoot:    a.cfg.Build.OutputRoot,
		Parity:        a.cfg.ParityMode(),
		Deterministic: a.cfg.Build.Deterministic,
	})
	h.Logger = a.logger

	switch {
	case a.cfg.Overlays.File != "" && a.cfg.Overlays.Watch:
		w, err := config.WatchOverlays(ctx, a.cfg.Overlays.File, a.logger)
		if err != nil {
			return nil, fmt.Errorf("watch overlays: %w", err)
		}
		h.Overlays = func() *domain.OverlayConfig {
			cur := w.Current()
			return &cur
		}
	case a.cfg.Overlays.File != "":
		overlays, err := a.overlays(a.cfg.Overlays.File)
		if err != nil {
			return nil, err
		}
		h.Overlays = func() *domain.OverlayConfig { return overlays }
	}

	mux := http.NewServeMux()
	mux.Handle("/api/v1/builds", h)
	mux.Handle("/api/v1/builds/", h)
	mux.Handle(a.cfg.Server.MetricsPath, promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))
	mux.Handle("/debug/vars", expvar.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok\n")
	})
	return mux, nil
}

// runServer serves until ctx is done, then shuts down gracefully.
func runServer(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
