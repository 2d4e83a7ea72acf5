package telemetry

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"

	otelpyroscope "github.com/grafana/otel-profiling-go"
	"github.com/grafana/pyroscope-go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

const (
	defaultMutexProfileFraction = 5
	defaultBlockProfileRate     = 5
)

// ErrProfilerAddressRequired is returned when profiling is enabled without a server
var ErrProfilerAddressRequired = errors.New("telemetry: profiler server address is required")

// ProfilerConfig holds Pyroscope continuous profiling settings
type ProfilerConfig struct {
	Enabled           bool
	ServerAddress     string
	ApplicationName   string
	BasicAuthUser     string
	BasicAuthPassword string
	MutexAndBlock     bool // adds mutex and block profiles
}

// Profiler owns the Pyroscope session. A disabled Profiler is a no-op.
type Profiler struct {
	config   ProfilerConfig
	logger   *zap.Logger
	session  *pyroscope.Profiler
	mu       sync.Mutex
	stopped  bool
	starter  func(pyroscope.Config) (*pyroscope.Profiler, error)
	tagHosts bool
}

// NewProfiler starts continuous profiling when cfg.Enabled
func NewProfiler(cfg ProfilerConfig, logger *zap.Logger) (*Profiler, error) {
	return newProfiler(cfg, logger, pyroscope.Start)
}

func newProfiler(cfg ProfilerConfig, logger *zap.Logger, start func(pyroscope.Config) (*pyroscope.Profiler, error)) (*Profiler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Profiler{config: cfg, logger: logger, starter: start, tagHosts: true}
	if !cfg.Enabled {
		logger.Info("continuous profiling disabled")
		return p, nil
	}
	if cfg.ServerAddress == "" {
		return nil, ErrProfilerAddressRequired
	}
	if cfg.ApplicationName == "" {
		cfg.ApplicationName = "crosslist"
		p.config.ApplicationName = cfg.ApplicationName
	}

	if cfg.MutexAndBlock {
		runtime.SetMutexProfileFraction(defaultMutexProfileFraction)
		runtime.SetBlockProfileRate(defaultBlockProfileRate)
	}

	session, err := p.starter(p.pyroscopeConfig())
	if err != nil {
		return nil, fmt.Errorf("telemetry: start profiler: %w", err)
	}
	p.session = session

	logger.Info("continuous profiling started",
		zap.String("server_address", cfg.ServerAddress),
		zap.String("application_name", cfg.ApplicationName),
		zap.Bool("mutex_and_block", cfg.MutexAndBlock),
	)
	return p, nil
}

func (p *Profiler) pyroscopeConfig() pyroscope.Config {
	types := []pyroscope.ProfileType{
		pyroscope.ProfileCPU,
		pyroscope.ProfileAllocObjects,
		pyroscope.ProfileAllocSpace,
		pyroscope.ProfileInuseObjects,
		pyroscope.ProfileInuseSpace,
		pyroscope.ProfileGoroutines,
	}
	if p.config.MutexAndBlock {
		types = append(types,
			pyroscope.ProfileMutexCount,
			pyroscope.ProfileMutexDuration,
			pyroscope.ProfileBlockCount,
			pyroscope.ProfileBlockDuration,
		)
	}

	tags := map[string]string{}
	if p.tagHosts {
		if hostname := os.Getenv("HOSTNAME"); hostname != "" {
			tags["hostname"] = hostname
		}
		if pod := os.Getenv("POD_NAME"); pod != "" {
			tags["pod"] = pod
		}
	}

	cfg := pyroscope.Config{
		ApplicationName: p.config.ApplicationName,
		ServerAddress:   p.config.ServerAddress,
		Logger:          pyroscopeLogger{logger: p.logger.Named("pyroscope").Sugar()},
		Tags:            tags,
		ProfileTypes:    types,
	}
	if p.config.BasicAuthUser != "" && p.config.BasicAuthPassword != "" {
		cfg.BasicAuthUser = p.config.BasicAuthUser
		cfg.BasicAuthPassword = p.config.BasicAuthPassword
	}
	return cfg
}

// Enabled reports whether a profiling session is running
func (p *Profiler) Enabled() bool {
	return p.session != nil
}

// Stop flushes pending profiles; it is safe to call more than once
func (p *Profiler) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped || p.session == nil {
		p.stopped = true
		return nil
	}
	p.stopped = true
	if err := p.session.Stop(); err != nil {
		p.logger.Error("profiler stop failed", zap.Error(err))
		return fmt.Errorf("telemetry: stop profiler: %w", err)
	}
	p.logger.Info("continuous profiling stopped")
	return nil
}

// EnableSpanProfiles wraps the installed tracer provider so CPU samples carry
// the active span id. It is a no-op while tracing is disabled.
func (p *Providers) EnableSpanProfiles() bool {
	if p.traces == nil {
		return false
	}
	otel.SetTracerProvider(otelpyroscope.NewTracerProvider(p.traces))
	p.logger.Info("span profiles enabled", zap.String("service_name", p.config.ServiceName))
	return true
}

// pyroscopeLogger adapts zap to pyroscope.Logger
type pyroscopeLogger struct {
	logger *zap.SugaredLogger
}

func (l pyroscopeLogger) Infof(format string, args ...any)  { l.logger.Infof(format, args...) }
func (l pyroscopeLogger) Debugf(format string, args ...any) { l.logger.Debugf(format, args...) }
func (l pyroscopeLogger) Errorf(format string, args ...any) { l.logger.Errorf(format, args...) }
