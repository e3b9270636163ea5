package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-views/internal/monitoring"
	"github.com/sells-group/campaign-views/internal/ratelimit"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve tracking links and the admin API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		policy := ratelimit.DefaultPolicy()
		if cfg.RateLimit.PolicyFile != "" {
			policy, err = ratelimit.LoadPolicy(cfg.RateLimit.PolicyFile)
			if err != nil {
				return err
			}
		}

		lh, err := initLimiter(ctx)
		if err != nil {
			return err
		}
		defer lh.close() //nolint:errcheck

		var circuit monitoring.CircuitReporter
		if lh.circuit != nil {
			circuit = lh.circuit
		}
		collector := env.collector(circuit)

		checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
		go checker.Run(ctx)

		handler := newRouter(&server{
			tracker:    env.Tracking,
			completer:  env.Completion,
			reconciler: env.Reconciler,
			payouts:    env.Payouts,
			metrics:    collector,
			limiter:    lh.limiter,
			policy:     policy,
			cfg:        cfg.Server,
			lookback:   cfg.Monitoring.LookbackWindowHours,
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()

		zap.L().Info("starting server",
			zap.Int("port", port),
			zap.String("store", cfg.Store.Driver),
			zap.String("ratelimit", cfg.RateLimit.Backend),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
