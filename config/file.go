package config

import (
	"fmt"

	"gopkg.in/ini.v1"
)

// LoadFile overlays the [port-opener] section of an ini file onto cfg.
// Keys use the long flag names:
//
//	[port-opener]
//	port = 8500
//	num-connections = 250
//	ipv = 6
//	metrics-file = /tmp/node-exporter/tcp_connections.prom
//	metrics-interval = 5s
//
// Unknown keys are ignored; a key whose value does not parse is an
// error naming the key.
func LoadFile(cfg *Config, path string) error {
	f, err := ini.Load(path)
	if err != nil {
		return fmt.Errorf("load config file %s: %w", path, err)
	}
	sec := f.Section(FileSection)

	ints := []struct {
		key string
		dst *int
	}{
		{"port", &cfg.Port},
		{"num-connections", &cfg.NumConnections},
		{"ipv", &cfg.IPVersion},
		{"verbose", &cfg.Verbose},
	}
	for _, it := range ints {
		if !sec.HasKey(it.key) {
			continue
		}
		v, err := sec.Key(it.key).Int()
		if err != nil {
			return fmt.Errorf("%s: [%s] %s: %w", path, FileSection, it.key, err)
		}
		*it.dst = v
	}

	if sec.HasKey("metrics-interval") {
		d, err := sec.Key("metrics-interval").Duration()
		if err != nil {
			return fmt.Errorf("%s: [%s] metrics-interval: %w", path, FileSection, err)
		}
		cfg.MetricsInterval = d
	}
	if sec.HasKey("metrics-file") {
		cfg.MetricsFile = sec.Key("metrics-file").String()
	}
	if sec.HasKey("proc-root") {
		cfg.ProcRoot = sec.Key("proc-root").String()
	}
	if sec.HasKey("export-only") {
		b, err := sec.Key("export-only").Bool()
		if err != nil {
			return fmt.Errorf("%s: [%s] export-only: %w", path, FileSection, err)
		}
		cfg.ExportOnly = b
	}
	return nil
}
