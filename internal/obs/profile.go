package obs

import (
	"log"

	pyroscope "github.com/grafana/pyroscope-go"
)

// discardLogger silences pyroscope's own logging; the bus reports profiler
// lifecycle through its own *log.Logger instead.
type discardLogger struct{}

func (discardLogger) Infof(_ string, _ ...any)  {}
func (discardLogger) Debugf(_ string, _ ...any) {}
func (discardLogger) Errorf(_ string, _ ...any) {}

// ProfileConfig controls the optional continuous profiler. Profiling is
// off unless ServerAddress is non-empty; it never blocks bus construction
// on a profiling-server outage.
type ProfileConfig struct {
	ApplicationName string
	ServerAddress   string
	Tags            map[string]string
}

// StartProfiler starts continuous profiling against server, or returns a
// no-op stop func if cfg.ServerAddress is empty. A start failure is logged
// and otherwise ignored: profiling is diagnostic, never load-bearing.
func StartProfiler(cfg ProfileConfig, logger *log.Logger) func() {
	if cfg.ServerAddress == "" {
		return func() {}
	}
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.ApplicationName,
		ServerAddress:   cfg.ServerAddress,
		Tags:            cfg.Tags,
		Logger:          discardLogger{},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
	if err != nil {
		if logger != nil {
			logger.Printf("obs: profiler start failed, continuing without it: %v", err)
		}
		return func() {}
	}
	return func() {
		_ = profiler.Stop()
	}
}
