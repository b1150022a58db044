package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/benmeehan/traffic-capture/internal/service_registry"
	"github.com/benmeehan/traffic-capture/internal/utils"
	"github.com/benmeehan/traffic-capture/pkg/file"
	"github.com/spf13/cobra"
)

// CmdRun starts the capture until SIGINT or SIGTERM.
func CmdRun(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Activate the firewall rules and the reverse tunnel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, *configPath)
		},
	}
}

func run(ctx context.Context, configPath string) error {
	fileClient := file.NewFileService()

	config, err := utils.LoadConfig(configPath, fileClient)
	if err != nil {
		return err
	}

	logger, err := utils.NewLogger(config.Logging.Level, config.Logging.Console, os.Stdout)
	if err != nil {
		return err
	}

	serviceRegistry := service_registry.NewServiceRegistry(fileClient, logger)
	if err := serviceRegistry.RegisterServices(config); err != nil {
		return fmt.Errorf("failed to register services: %w", err)
	}

	if err := serviceRegistry.StartServices(); err != nil {
		return err
	}
	logger.Info().Msg("All services started successfully")

	<-ctx.Done()

	logger.Info().Msg("Shutting down gracefully...")
	return serviceRegistry.StopServices()
}
