package configwatcher

import "github.com/bft-labs/ctlplane/pkg/ctlplane"

// WithConfigWatcher returns a ctlplane Option that enables config file
// watching.
//
// Usage:
//
//	drv, err := ctlplane.New(cfg, kernel,
//	    configwatcher.WithConfigWatcher(configwatcher.Config{
//	        Path:          "/home/me/.ctlplane/config.toml",
//	        DebounceDelay: 100 * time.Millisecond,
//	    }),
//	)
func WithConfigWatcher(cfg Config) ctlplane.Option {
	return ctlplane.WithPlugin(New(cfg))
}
