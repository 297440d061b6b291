package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ethpandaops/allureboard/pkg/allure"
	"github.com/ethpandaops/allureboard/pkg/client"
	"github.com/ethpandaops/allureboard/pkg/config"
	"github.com/ethpandaops/allureboard/pkg/reports"
	"github.com/ethpandaops/allureboard/pkg/storage"
	"github.com/spf13/cobra"
)

// Environment variables read for remote access.
const (
	envServer   = "ALLUREBOARD_SERVER"
	envToken    = "ALLUREBOARD_TOKEN"
	envEmail    = "ALLUREBOARD_EMAIL"
	envPassword = "ALLUREBOARD_PASSWORD"
)

// reportSource is where the read commands get their data: either storage
// directly or a running API server.
type reportSource interface {
	Fetch(ctx context.Context) (*reports.Snapshot, error)
	Results(ctx context.Context, runID string) ([]allure.TestResult, error)
	Compare(ctx context.Context, run1, run2 string) (*allure.Comparison, error)
	Download(ctx context.Context, runID string, w io.Writer) (int64, error)
}

var (
	_ reportSource = (*storageSource)(nil)
	_ reportSource = (*client.Client)(nil)
)

// remoteFlags are shared by every command that can talk to the API.
type remoteFlags struct {
	server   string
	token    string
	email    string
	password string
	refresh  bool
}

func (f *remoteFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.server, "server", "",
		"API base URL; reads storage directly when empty (env "+envServer+")")
	cmd.Flags().StringVar(&f.token, "token", "",
		"bearer token for the API (env "+envToken+")")
	cmd.Flags().StringVar(&f.email, "email", "",
		"login email when no token is given (env "+envEmail+")")
	cmd.Flags().StringVar(&f.password, "password", "",
		"login password when no token is given (env "+envPassword+")")
}

func (f *remoteFlags) resolve() {
	if f.server == "" {
		f.server = os.Getenv(envServer)
	}

	if f.token == "" {
		f.token = os.Getenv(envToken)
	}

	if f.email == "" {
		f.email = os.Getenv(envEmail)
	}

	if f.password == "" {
		f.password = os.Getenv(envPassword)
	}
}

// openSource builds the reportSource selected by the flags.
func openSource(ctx context.Context, f *remoteFlags) (reportSource, error) {
	f.resolve()

	if f.server != "" {
		return openRemote(ctx, f)
	}

	cfg, err := config.Load(cfgFiles...)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	reader, err := storage.NewReader(&cfg.Storage, nil)
	if err != nil {
		return nil, fmt.Errorf("creating storage reader: %w", err)
	}

	return newStorageSource(reader, &cfg.Reports), nil
}

// openClient creates an API client, logging in when no token is given.
func openClient(ctx context.Context, f *remoteFlags) (*client.Client, error) {
	var opts []client.Option
	if f.token != "" {
		opts = append(opts, client.WithToken(f.token))
	}

	c := client.New(log, f.server, opts...)

	if c.Token() == "" && f.email != "" {
		if _, err := c.Login(ctx, f.email, f.password); err != nil {
			return nil, fmt.Errorf("logging in to %s: %w", f.server, err)
		}
	}

	return c, nil
}

func openRemote(ctx context.Context, f *remoteFlags) (reportSource, error) {
	c, err := openClient(ctx, f)
	if err != nil {
		return nil, err
	}

	if f.refresh {
		return &refreshingClient{Client: c}, nil
	}

	return c, nil
}

// refreshingClient asks the server to bypass its cache.
type refreshingClient struct {
	*client.Client
}

func (c *refreshingClient) Fetch(ctx context.Context) (*reports.Snapshot, error) {
	return c.Refresh(ctx)
}

// storageSource reads runs straight from storage.
type storageSource struct {
	catalog  *reports.Catalog
	archives *reports.ArchiveBuilder
}

func newStorageSource(reader storage.Reader, cfg *config.ReportsConfig) *storageSource {
	return &storageSource{
		catalog:  reports.NewCatalog(log, reader, cfg),
		archives: reports.NewArchiveBuilder(log, reader),
	}
}

func (s *storageSource) Fetch(ctx context.Context) (*reports.Snapshot, error) {
	return s.catalog.Fetch(ctx)
}

func (s *storageSource) Results(ctx context.Context, runID string) ([]allure.TestResult, error) {
	return s.catalog.Records(ctx, runID)
}

func (s *storageSource) Compare(
	ctx context.Context, run1, run2 string,
) (*allure.Comparison, error) {
	a, err := s.catalog.Run(ctx, run1)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", run1, err)
	}

	b, err := s.catalog.Run(ctx, run2)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", run2, err)
	}

	cmp, ok := allure.Compare(a, b)
	if !ok {
		return nil, errors.New("one or both reports not found")
	}

	return &cmp, nil
}

func (s *storageSource) Download(
	ctx context.Context, runID string, w io.Writer,
) (int64, error) {
	archive, err := s.archives.Plan(ctx, runID)
	if err != nil {
		return 0, err
	}

	stats, err := archive.WriteTo(ctx, w)
	if err != nil {
		return 0, err
	}

	if stats.Skipped > 0 {
		log.WithField("skipped", stats.Skipped).Warn("Some files could not be read")
	}

	return stats.Bytes, nil
}
