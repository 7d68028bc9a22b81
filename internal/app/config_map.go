package app

import (
	"fmt"
	"strings"
	"time"

	"tinycron/internal/config"
	"tinycron/internal/observability/httpserver"
	"tinycron/internal/shelltask"
	"tinycron/internal/storage"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "none", "disabled", "off":
		return storage.Config{}, false, nil
	case "file":
		if path == "" {
			path = "./tinycron"
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := sc.BusyTimeoutOr(time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapMetricsConfig(cfg *config.Config) (httpserver.Config, bool, error) {
	if cfg == nil || cfg.Metrics == nil || !cfg.Metrics.Enabled {
		return httpserver.Config{}, false, nil
	}
	m := cfg.Metrics
	rht, err := m.ReadHeaderTimeoutOr(5 * time.Second)
	if err != nil {
		return httpserver.Config{}, false, err
	}
	addr := strings.TrimSpace(m.Addr)
	if addr == "" {
		addr = config.DefaultMetricsAddr
	}
	path := strings.TrimSpace(m.Path)
	if path == "" {
		path = config.DefaultMetricsPath
	}
	return httpserver.Config{
		Addr:              addr,
		MetricsPath:       path,
		Token:             strings.TrimSpace(m.Token),
		AllowInsecure:     m.AllowInsecure,
		Pprof:             m.Pprof,
		ReadHeaderTimeout: rht,
	}, true, nil
}

func mapTaskConfig(cfg *config.Config) shelltask.Config {
	t := cfg.Task
	return shelltask.Config{
		Setup:    t.Setup,
		Run:      t.Run,
		Teardown: t.Teardown,
		Workdir:  strings.TrimSpace(t.Workdir),
		Env:      t.Env,
	}
}
