package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/benmeehan/traffic-capture/internal/constants"
	"github.com/benmeehan/traffic-capture/internal/tunnel"
	"github.com/benmeehan/traffic-capture/pkg/file"
	"github.com/rs/zerolog"
)

// RemoteRunner runs a shell command on the device.
type RemoteRunner interface {
	Run(ctx context.Context, cmd string, stdin io.Reader) ([]byte, error)
}

// PfctlConfigurator uploads the rules file to the device and loads it with pfctl.
type PfctlConfigurator struct {
	runner     RemoteRunner
	fileClient file.FileOperations
	remotePath string
	timeout    time.Duration
	logger     zerolog.Logger
}

// NewPfctlConfigurator creates a PfctlConfigurator storing the rules at remotePath on the device.
func NewPfctlConfigurator(runner RemoteRunner, fileClient file.FileOperations, remotePath string, logger zerolog.Logger) *PfctlConfigurator {
	if remotePath == "" {
		remotePath = constants.DeviceRulesPath
	}
	return &PfctlConfigurator{
		runner:     runner,
		fileClient: fileClient,
		remotePath: remotePath,
		timeout:    constants.DeviceCommandTimeout,
		logger:     logger,
	}
}

// InstallRules copies rulesFile to the device and enables pf with it.
func (p *PfctlConfigurator) InstallRules(rulesFile string) error {
	rules, err := p.fileClient.ReadFile(rulesFile)
	if err != nil {
		return fmt.Errorf("failed to read rules file: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	remote := tunnel.ShellQuote(p.remotePath)
	if _, err := p.runner.Run(ctx, "cat > "+remote, strings.NewReader(rules)); err != nil {
		return fmt.Errorf("failed to upload rules file: %w", err)
	}
	p.logger.Debug().Str("remote_path", p.remotePath).Msg("Rules file uploaded")

	if _, err := p.runner.Run(ctx, "pfctl -e -f "+remote, nil); err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	return nil
}

// RemoveRules deletes the rules file on the device and disables pf.
func (p *PfctlConfigurator) RemoveRules() error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	var errs []error
	if _, err := p.runner.Run(ctx, "rm -f "+tunnel.ShellQuote(p.remotePath), nil); err != nil {
		errs = append(errs, fmt.Errorf("failed to delete remote rules file: %w", err))
	}
	if _, err := p.runner.Run(ctx, "pfctl -d", nil); err != nil {
		errs = append(errs, fmt.Errorf("failed to disable pf: %w", err))
	}
	return errors.Join(errs...)
}
