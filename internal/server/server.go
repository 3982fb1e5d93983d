package server

import (
	"context"
	"log/slog"
	stdhttp "net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/neuroerp/neuroerp/internal/agent"
	"github.com/neuroerp/neuroerp/internal/api/consumer"
	"github.com/neuroerp/neuroerp/internal/api/http"
	"github.com/neuroerp/neuroerp/internal/api/mcp"
	"github.com/neuroerp/neuroerp/internal/fabric"
	"github.com/neuroerp/neuroerp/internal/orchestrator"
	"github.com/neuroerp/neuroerp/pkg/audit"
	"github.com/neuroerp/neuroerp/pkg/auth"
	"github.com/neuroerp/neuroerp/pkg/bus"
	"github.com/neuroerp/neuroerp/pkg/genkit"
	"github.com/neuroerp/neuroerp/pkg/graph"
	"github.com/neuroerp/neuroerp/pkg/log"
	"github.com/neuroerp/neuroerp/pkg/redis"
	"github.com/neuroerp/neuroerp/pkg/vector"
)

// Server wires the fabric, agents, orchestration and API surfaces together.
type Server struct {
	config Config
	logger *slog.Logger

	fabric    *fabric.Fabric
	registry  *agent.Registry
	engine    *orchestrator.Engine
	scheduler *orchestrator.Scheduler
	consumer  *consumer.Consumer
}

// NewServer creates a new server with the given configuration
func NewServer(conf Config) (*Server, error) {
	server := &Server{
		config: conf,
	}

	if err := server.initDepend(); err != nil {
		return nil, errors.WithMessage(err, "init server dependency failed")
	}

	if err := server.initCore(); err != nil {
		return nil, errors.WithMessage(err, "init core failed")
	}

	if err := server.initConsumer(); err != nil {
		return nil, errors.WithMessage(err, "init consumer failed")
	}

	return server, nil
}

// initDepend initializes all external dependencies
func (s *Server) initDepend() error {
	// Initialize log first
	if err := log.Init(s.config.Log); err != nil {
		return errors.WithMessage(err, "failed to init log")
	}

	// Create logger for this module
	s.logger = log.Logger("server")
	s.logger.Info("initializing dependencies")

	ctx := context.Background()

	// Initialize Genkit with all configured models
	s.logger.Info("initializing genkit models")
	if err := genkit.Init(ctx, s.config.Models); err != nil {
		return errors.WithMessage(err, "failed to init models")
	}

	// Initialize OpenSearch vector store
	s.logger.Info("initializing vector store")
	if err := vector.Init(s.config.Vector); err != nil {
		return errors.WithMessage(err, "failed to init vector store")
	}

	// Initialize Neo4j graph store
	s.logger.Info("initializing graph store")
	if err := graph.Init(s.config.Neo4j); err != nil {
		return errors.WithMessage(err, "failed to init graph store")
	}

	// Initialize Kafka event bus
	s.logger.Info("initializing event bus")
	if err := bus.Init(s.config.Kafka); err != nil {
		return errors.WithMessage(err, "failed to init event bus")
	}

	// Initialize Redis
	s.logger.Info("initializing redis")
	if err := redis.Init(s.config.Redis); err != nil {
		return errors.WithMessage(err, "failed to init redis")
	}

	// Initialize PostgreSQL audit trail
	s.logger.Info("initializing audit store")
	if err := audit.Init(s.config.Postgres); err != nil {
		return errors.WithMessage(err, "failed to init audit store")
	}

	// Initialize auth
	if err := auth.Init(s.config.Auth); err != nil {
		return errors.WithMessage(err, "failed to init auth")
	}

	return nil
}

// initCore builds the fabric, agents and orchestration layers
func (s *Server) initCore() error {
	s.logger.Info("initializing fabric")

	opts := []fabric.Option{
		fabric.WithBus(bus.NewBus()),
	}
	if store := vector.NewStore(); store != nil {
		opts = append(opts, fabric.WithVectorStore(store))
	}
	if g := graph.NewStore(); g != nil {
		opts = append(opts, fabric.WithGraph(g))
	}
	if embedder := s.config.Models.Embedder; embedder != "" {
		opts = append(opts, fabric.WithEmbedder(func(ctx context.Context, text string) ([]float32, error) {
			return genkit.Embedding(ctx, embedder, text)
		}))
	}
	s.fabric = fabric.New(s.config.Fabric, opts...)

	s.logger.Info("initializing agents")
	s.registry = agent.NewRegistry(s.fabric, s.config.Models)

	s.logger.Info("initializing orchestration")
	s.engine = orchestrator.NewEngine(s.registry, bus.NewBus())
	s.scheduler = orchestrator.NewScheduler(s.config.Scheduler, s.registry, bus.NewBus(), audit.NewStore())

	return nil
}

// initConsumer initializes the Kafka intake
func (s *Server) initConsumer() error {
	s.logger.Info("initializing consumer")

	c, err := consumer.NewConsumer(s.scheduler, audit.NewStore(), consumer.Config{
		Kafka: s.config.Kafka,
	})
	if err != nil {
		return errors.WithMessage(err, "failed to create consumer")
	}

	s.consumer = c
	return nil
}

// Start starts the server based on configuration mode
func (s *Server) Start() error {
	s.logger.Info("starting", "mode", s.config.Server.Mode, "port", s.config.Server.Port)

	ctx, cancel := context.WithCancel(context.Background())

	// Handle graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		s.logger.Info("received shutdown signal")
		cancel()
	}()

	s.scheduler.Start(ctx)

	g, ctx := errgroup.WithContext(ctx)

	// Start consumer
	if s.consumer != nil {
		g.Go(func() error {
			return s.runConsumer(ctx)
		})
	}

	switch s.config.Server.Mode {
	case "http":
		g.Go(func() error {
			return s.runHTTPServer(ctx)
		})
	case "mcp":
		g.Go(func() error {
			return s.runMCPServer(ctx)
		})
	case "both":
		g.Go(func() error {
			return s.runHTTPServer(ctx)
		})
		g.Go(func() error {
			return s.runMCPServer(ctx)
		})
	default:
		cancel()
		return errors.Errorf("unknown mode: %s", s.config.Server.Mode)
	}

	return g.Wait()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down")

	ctx := context.Background()

	// Stop consumer
	if s.consumer != nil {
		if err := s.consumer.Stop(); err != nil {
			s.logger.Error("failed to stop consumer", "error", err)
		}
	}

	if s.scheduler != nil {
		s.scheduler.Stop()
	}

	if s.fabric != nil {
		s.fabric.Close()
	}

	if err := bus.NewBus().Close(); err != nil {
		s.logger.Error("failed to close event bus", "error", err)
	}

	if err := audit.Close(ctx); err != nil {
		s.logger.Error("failed to close audit store", "error", err)
	}

	if err := graph.Close(ctx); err != nil {
		s.logger.Error("failed to close graph store", "error", err)
	}

	if err := redis.Close(); err != nil {
		s.logger.Error("failed to close redis", "error", err)
	}

	if store := vector.NewStore(); store != nil {
		store.Close()
	}

	return nil
}

func (s *Server) runHTTPServer(ctx context.Context) error {
	serverCfg := http.DefaultServerConfig()
	serverCfg.Host = s.config.Server.Host
	serverCfg.Port = s.config.Server.Port

	handler := http.NewHandler(s.registry, s.fabric, s.engine, s.scheduler,
		auth.NewAuth(), audit.NewStore(), s.config.Server.WorkflowModel)
	srv := http.NewServer(handler, serverCfg)

	// Shutdown when context is cancelled
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	if err := srv.Start(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
		return errors.WithMessage(err, "http server error")
	}
	return nil
}

func (s *Server) runMCPServer(ctx context.Context) error {
	srv := mcp.NewServer(mcp.Deps{
		Registry:      s.registry,
		Fabric:        s.fabric,
		Engine:        s.engine,
		WorkflowModel: s.config.Server.WorkflowModel,
	})

	if err := srv.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return errors.WithMessage(err, "mcp server error")
	}
	return nil
}

func (s *Server) runConsumer(ctx context.Context) error {
	if err := s.consumer.Start(ctx); err != nil {
		return errors.WithMessage(err, "consumer start error")
	}

	// Wait for context cancellation
	<-ctx.Done()

	return s.consumer.Stop()
}
