package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"github.com/ethpandaops/allureboard/pkg/api/indexer"
	"github.com/ethpandaops/allureboard/pkg/api/indexstore"
	"github.com/ethpandaops/allureboard/pkg/cache"
	"github.com/ethpandaops/allureboard/pkg/config"
	"github.com/ethpandaops/allureboard/pkg/reports"
	"github.com/ethpandaops/allureboard/pkg/storage"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log         logrus.FieldLogger
	cfg         *config.Config
	reader      storage.Reader
	catalog     *reports.Catalog
	archives    *reports.ArchiveBuilder
	cache       *cache.Cache
	auth        *authenticator
	indexStore  indexstore.Store
	indexer     indexer.Indexer
	indexSource *indexer.Source
	proxies     []netip.Prefix
	httpServer  *http.Server
	now         func() time.Time
	wg          sync.WaitGroup
	done        chan struct{}
	stopOnce    sync.Once
}

// NewServer creates a new API server reading reports through reader.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.Config,
	reader storage.Reader,
) Server {
	return newServer(log, cfg, reader)
}

func newServer(
	log logrus.FieldLogger,
	cfg *config.Config,
	reader storage.Reader,
) *server {
	log = log.WithField("component", "api")

	return &server{
		log:      log,
		cfg:      cfg,
		reader:   reader,
		catalog:  reports.NewCatalog(log, reader, &cfg.Reports),
		archives: reports.NewArchiveBuilder(log, reader),
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Start prepares auth, the optional index and the cache, then starts the
// HTTP server.
func (s *server) Start(ctx context.Context) error {
	if err := s.prepare(ctx); err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.API.Server.Listen,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.API.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.API.Server.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.API.Server.Listen).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	// Start the background indexer AFTER the API is listening so that
	// the server is reachable while the first (potentially slow) pass runs.
	if s.indexer != nil {
		if err := s.indexer.Start(ctx); err != nil {
			return fmt.Errorf("starting indexer: %w", err)
		}
	}

	return nil
}

// prepare wires everything the router needs.
func (s *server) prepare(ctx context.Context) error {
	auth, err := newAuthenticator(&s.cfg.API.Auth)
	if err != nil {
		return fmt.Errorf("preparing auth: %w", err)
	}

	s.auth = auth

	proxies, err := config.ParseTrustedProxies(s.cfg.API.Server.TrustedProxies)
	if err != nil {
		return fmt.Errorf("parsing trusted proxies: %w", err)
	}

	s.proxies = proxies

	var fetcher cache.Fetcher = s.catalog

	if s.cfg.API.Indexing.Enabled {
		if err := s.prepareIndexing(ctx); err != nil {
			return fmt.Errorf("preparing indexing: %w", err)
		}

		fetcher = s.indexSource
	}

	s.cache = cache.New(s.log, fetcher, s.cfg.Reports.CacheTTL)

	return nil
}

// Stop gracefully shuts down the HTTP server and closes the index store.
func (s *server) Stop() error {
	s.stopOnce.Do(func() { close(s.done) })

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	if s.indexer != nil {
		if err := s.indexer.Stop(); err != nil {
			s.log.WithError(err).Warn("Indexer stop error")
		}
	}

	if s.indexStore != nil {
		if err := s.indexStore.Stop(); err != nil {
			return fmt.Errorf("stopping index store: %w", err)
		}
	}

	s.log.Info("API server stopped")

	return nil
}

// invalidateReports drops cached reports so the next request reads the
// updated index.
func (s *server) invalidateReports() {
	if s.cache != nil {
		s.cache.Clear()
	}
}

// prepareIndexing opens the index store and creates the indexer without
// starting it. Call indexer.Start() separately after the HTTP server is
// listening.
func (s *server) prepareIndexing(ctx context.Context) error {
	s.indexStore = indexstore.NewStore(s.log, &s.cfg.API.Indexing.Database)

	if err := s.indexStore.Start(ctx); err != nil {
		return fmt.Errorf("starting index store: %w", err)
	}

	interval := s.cfg.API.Indexing.Interval
	if interval <= 0 {
		interval = config.DefaultIndexingInterval
	}

	s.indexer = indexer.NewIndexer(
		s.log,
		s.indexStore,
		s.catalog,
		s.cfg.Storage.Prefix,
		interval,
		s.cfg.API.Indexing.Concurrency,
		indexer.WithOnChange(s.invalidateReports),
	)
	s.indexSource = indexer.NewSource(s.indexStore, s.cfg.Storage.Prefix)

	s.log.Info("Indexing service enabled")

	return nil
}
