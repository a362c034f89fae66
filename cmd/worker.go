/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/brainquiz/apiserver/internal/metrics"
	"github.com/brainquiz/apiserver/internal/mq"
	"github.com/brainquiz/apiserver/internal/server"
	"github.com/brainquiz/apiserver/internal/services"
	"github.com/brainquiz/apiserver/internal/worker"
)

var workerMetricsAddr string

// workerCmd represents the worker command
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Applies gameplay progress events to user counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		queue, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return err
		}
		if queue == nil {
			return errors.New("worker requires MQ_BACKEND rabbitmq or pubsub")
		}
		defer queue.Close()

		repo, closeRepo, err := server.OpenUserRepository(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := closeRepo(); err != nil {
				logger.Warn("close user store", "error", err)
			}
		}()

		m := metrics.New()
		if workerMetricsAddr != "" {
			metricsSrv := &http.Server{
				Addr:              workerMetricsAddr,
				Handler:           m.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics listener failed", "error", err)
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = metricsSrv.Shutdown(shutdownCtx)
			}()
		}

		users := services.NewUserService(repo, services.WithLogger(logger))
		if err := worker.NewProgressWorker(users, m, logger).Run(ctx, queue, cfg.MQ.ProgressTopic); err != nil {
			return fmt.Errorf("progress worker: %w", err)
		}
		logger.Info("progress worker stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().StringVar(&workerMetricsAddr, "metrics-addr", ":9091", "address serving /metrics; empty disables it")
}
