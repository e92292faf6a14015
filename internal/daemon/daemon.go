package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/icetop/internal/config"
	"github.com/harun/icetop/internal/logger"
	"github.com/harun/icetop/internal/observability"
	"github.com/harun/icetop/internal/tracing"
	"github.com/harun/icetop/pkg/agent"
	"github.com/harun/icetop/pkg/catalog"
	"github.com/harun/icetop/pkg/catalog/factory"
	"github.com/harun/icetop/pkg/commandqueue"
	"github.com/harun/icetop/pkg/gateway"
	"github.com/harun/icetop/pkg/session"
	"github.com/harun/icetop/pkg/toolexecutor"
)

// Version is reported to tracing and the CLI.
const Version = "0.1.0"

// Options adjusts how the daemon is assembled.
type Options struct {
	// ConfigPath is the settings file; empty means config.DefaultPath().
	ConfigPath string
	// PyIcebergPath overrides the pyicebergConfigPath setting.
	PyIcebergPath string
	// Opener replaces the pyiceberg-backed catalog opener.
	Opener catalog.Opener
	// Providers replaces the vendor provider factory.
	Providers agent.ProviderCreator
	// Resolver replaces the settings/environment credential resolver.
	Resolver agent.ConfigResolver
}

// Daemon owns the chat service and, once started, the gateway that exposes it.
type Daemon struct {
	config  *config.Config
	options Options
	logger  *logger.Logger

	queue    *commandqueue.CommandQueue
	catalogs *catalog.Registry
	sessions *session.Manager
	executor *toolexecutor.ToolExecutor
	agent    *agent.Agent
	service  *agent.Service

	gatewayServer *gateway.Server
	watcher       *config.Watcher
	lifecycle     *LifecycleManager

	startTime time.Time
	running   bool
	closed    bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// Status reports whether the daemon is serving.
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
}

// New assembles the daemon from cfg.
func New(cfg *config.Config, log *logger.Logger, opts Options) (*Daemon, error) {
	observability.EnsureRegistered()

	d := &Daemon{
		config:  cfg,
		options: opts,
		logger:  log,
	}

	if err := tracing.InitOpenTelemetry("icetop", Version); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
	} else {
		d.tracingEnabled = true
	}

	if err := d.initializeCoreModules(); err != nil {
		d.shutdownTracing()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}
	if err := d.initializeServices(); err != nil {
		d.shutdownTracing()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return d, nil
}

func (d *Daemon) initializeCoreModules() error {
	base := d.logger.GetZerolog()

	opener := d.options.Opener
	if opener == nil {
		opener = factory.NewReloadingOpener(d.PyIcebergPath())
	}
	d.catalogs = catalog.NewRegistry(opener)
	d.sessions = session.NewManager(d.catalogs)
	d.executor = toolexecutor.New()
	d.queue = commandqueue.New()

	resolver := d.options.Resolver
	if resolver == nil {
		resolver = config.NewResolver(d.ConfigPath())
	}

	a, err := agent.NewAgent(agent.Config{
		Executor:        d.executor,
		Resolver:        resolver,
		ProviderFactory: d.options.Providers,
		Logger:          base.With().Str("component", "agent").Logger(),
	})
	if err != nil {
		return err
	}
	d.agent = a
	d.service = agent.NewService(d.sessions, a, d.queue)

	base.Debug().
		Strs("tools", d.executor.ListTools()).
		Str("pyiceberg", d.PyIcebergPath()).
		Msg("Core modules initialized")
	return nil
}

func (d *Daemon) initializeServices() error {
	srv, err := gateway.NewServer(gateway.Config{
		Host:         d.config.Gateway.Host,
		Port:         d.config.Gateway.Port,
		SharedSecret: d.config.Gateway.SharedSecret,
		Chat:         d.service,
		Catalogs:     d.ListCatalogs,
		Handles:      d.catalogs,
		Settings:     config.NewLoader(d.ConfigPath()),
		Logger:       d.logger.GetZerolog(),
	})
	if err != nil {
		return err
	}
	d.gatewayServer = srv
	d.lifecycle = NewLifecycleManager(d)
	return nil
}

// ConfigPath returns the settings file in use.
func (d *Daemon) ConfigPath() string {
	return config.NewLoader(d.options.ConfigPath).GetConfigPath()
}

// DataDir is the directory holding the settings file and the PID file.
func (d *Daemon) DataDir() string {
	return filepath.Dir(d.ConfigPath())
}

// PyIcebergPath returns the catalog definitions file in use.
func (d *Daemon) PyIcebergPath() string {
	if d.options.PyIcebergPath != "" {
		return d.options.PyIcebergPath
	}
	if d.config.PyIcebergConfigPath != "" {
		return d.config.PyIcebergConfigPath
	}
	return config.DefaultPyIcebergConfigPath()
}

// ListCatalogs returns the catalog names defined in the pyiceberg file.
func (d *Daemon) ListCatalogs(ctx context.Context) ([]string, error) {
	cfg, err := catalog.LoadPyIcebergConfig(d.PyIcebergPath())
	if err != nil {
		return nil, err
	}
	return cfg.CatalogNames(), nil
}

// Start begins serving the gateway and watching the settings file.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	if d.closed {
		d.mu.Unlock()
		return fmt.Errorf("daemon is closed")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	logger := d.traceLogger()
	logger.Info().Str("config", d.ConfigPath()).Msg("Starting IceTop daemon")

	if err := d.lifecycle.Start(); err != nil {
		d.setStopped()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if err := d.gatewayServer.Start(); err != nil {
		_ = d.lifecycle.Stop()
		d.setStopped()
		return fmt.Errorf("failed to start gateway server: %w", err)
	}
	logger.Info().Str("addr", d.gatewayServer.Addr()).Msg("Gateway server started")

	watcher, err := config.NewWatcher(d.ConfigPath(), 0, d.handleSettingsChange)
	if err == nil {
		err = watcher.Start()
	}
	if err != nil {
		logger.Warn().Err(err).Msg("Settings watcher unavailable, edits apply to new sessions only")
	} else {
		d.watcher = watcher
	}

	logger.Info().Msg("Daemon started")
	return nil
}

func (d *Daemon) handleSettingsChange() {
	n := d.service.ReloadAll()
	d.logger.Info().Int("sessions_cleared", n).Msg("Settings changed, sessions reloaded")
}

// Stop shuts the gateway down, waiting up to 30 seconds for running chats.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	logger := d.traceLogger()
	logger.Info().Msg("Stopping IceTop daemon")

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop settings watcher")
		}
		d.watcher = nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := d.gatewayServer.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to stop gateway server")
	}
	cancel()

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	d.Close()
	logger.Info().Msg("Daemon stopped")
	return nil
}

// Close releases the queue, catalog handles and tracing. It is called by Stop
// and directly by callers that never started the daemon.
func (d *Daemon) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	if err := d.service.Close(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to close command queue")
	}
	d.catalogs.Clear()
	d.shutdownTracing()
}

func (d *Daemon) shutdownTracing() {
	if !d.tracingEnabled {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
		d.logger.Error().Err(err).Msg("Failed to shutdown tracing")
	}
	d.tracingEnabled = false
}

func (d *Daemon) setStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

func (d *Daemon) traceLogger() zerolog.Logger {
	return d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{Running: d.running}
	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}
	return status
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon.
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// Service returns the chat service.
func (d *Daemon) Service() *agent.Service {
	return d.service
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetGatewayServer returns the gateway server
func (d *Daemon) GetGatewayServer() *gateway.Server {
	return d.gatewayServer
}

// GetToolExecutor returns the tool executor
func (d *Daemon) GetToolExecutor() *toolexecutor.ToolExecutor {
	return d.executor
}
