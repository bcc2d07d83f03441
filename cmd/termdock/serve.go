// Copyright 2026 Robert Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"

	"pkt.systems/pslog"

	"github.com/termdock/termdock/internal/config"
	"github.com/termdock/termdock/internal/debug"
	"github.com/termdock/termdock/internal/gateway"
	"github.com/termdock/termdock/internal/stream"
	"github.com/termdock/termdock/internal/term"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	var noQR bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the termdock server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			return runServe(cmd, cfg, logger, noQR)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVar(&noQR, "no-qr", false, "do not print the access QR code")
	return cmd
}

func runServe(cmd *cobra.Command, cfg config.Config, logger pslog.Logger, noQR bool) error {
	filterMode, err := stream.ParseFilterMode(cfg.Stream.FilterMode)
	if err != nil {
		return err
	}

	monitor := debug.NewMonitor(debug.MonitorConfig{}, logger)
	monitor.Start()
	defer monitor.Stop()

	// SIGQUIT dumps goroutine stacks for debugging hangs.
	dumpCh := make(chan os.Signal, 1)
	signal.Notify(dumpCh, syscall.SIGQUIT)
	defer signal.Stop(dumpCh)
	go func() {
		for range dumpCh {
			monitor.DumpGoroutineStacks()
		}
	}()

	detectCfg := stream.DetectorConfig{
		IdleWindow: time.Duration(cfg.Detect.IdleWindowSeconds) * time.Second,
	}
	if cfg.Detect.Heuristics {
		ps := stream.NewPatternSet(stream.DefaultPredicates())
		if cfg.Detect.PatternFile != "" {
			if err := stream.WatchPatternFile(cmd.Context(), ps, cfg.Detect.PatternFile, logger); err != nil {
				return fmt.Errorf("pattern file %s: %w", cfg.Detect.PatternFile, err)
			}
		}
		detectCfg.Heuristics = ps
	}

	manager := term.NewManager(logger)
	auth := gateway.NewAuthService(
		time.Duration(cfg.Auth.TokenLifetimeHours)*time.Hour,
		cfg.Auth.MaxConnections,
		logger,
	)
	sizes := gateway.NewSizeCache()

	// The coalescer's sink closes over the handler, which needs the
	// deck, which needs the coalescer. The variable is assigned before
	// any frame can flush.
	var handler *gateway.Handler
	coal := stream.NewCoalescer(
		time.Duration(cfg.Stream.FlushIntervalMS)*time.Millisecond,
		func(tabID string, data []byte) {
			handler.BroadcastOutput(tabID, data)
		},
		logger,
	)
	dk := newDeck(manager, coal, detectCfg, cfg.Tabs, logger)
	handler = gateway.NewHandler(auth, dk, sizes, gateway.HandlerConfig{
		FilterMode:        filterMode,
		ScrollbackBytes:   cfg.Stream.ScrollbackKB * 1024,
		HeartbeatInterval: time.Duration(cfg.Server.HeartbeatIntervalSeconds) * time.Second,
		HeartbeatTimeout:  time.Duration(cfg.Server.HeartbeatTimeoutSeconds) * time.Second,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
	}, logger)

	go coal.Run()
	go handler.Run()
	dk.StartAutoTabs()

	srv := gateway.NewServer(handler, auth, dk, logger)
	httpServer := &http.Server{
		Addr:     cfg.Server.Addr,
		Handler:  srv.Routes(),
		ErrorLog: pslog.LogLoggerWithLevel(logger, pslog.ErrorLevel),
	}

	token := auth.CurrentToken()
	printAccessInfo(cmd, cfg, token, noQR)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", "err", err)
	}
	handler.Close()
	coal.Close()
	dk.Shutdown()
	return nil
}

// printAccessInfo prints the remote access URL, its token, and a QR
// code pointing a phone browser at it.
func printAccessInfo(cmd *cobra.Command, cfg config.Config, token string, noQR bool) {
	out := cmd.OutOrStdout()
	url := accessURL(cfg)
	fmt.Fprintf(out, "access url: %s\n", url)
	fmt.Fprintf(out, "access token: %s\n", token)
	if !noQR {
		qrterminal.GenerateHalfBlock(url+"?token="+token, qrterminal.L, out)
	}
}

func accessURL(cfg config.Config) string {
	if base := strings.TrimSpace(cfg.Server.BaseURL); base != "" {
		return strings.TrimRight(base, "/")
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	addr := cfg.Server.Addr
	if strings.HasPrefix(addr, ":") {
		return "http://" + host + addr
	}
	return "http://" + addr
}
