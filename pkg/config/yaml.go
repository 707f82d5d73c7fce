package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration for YAML unmarshaling from strings like
// "500ms" or "2s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// fileOverrides is the YAML document shape accepted by LoadFile. Every
// field is a pointer so an absent key in the file leaves the
// environment-derived Config value untouched.
type fileOverrides struct {
	Node *struct {
		ChainID        *string `yaml:"chain_id"`
		Home           *string `yaml:"home"`
		ABCIListenAddr *string `yaml:"abci_listen_addr"`
		GenesisPath    *string `yaml:"genesis_path"`
		LogLevel       *string `yaml:"log_level"`
		LogJSON        *bool   `yaml:"log_json"`
	} `yaml:"node"`

	Store *struct {
		DataDir *string `yaml:"data_dir"`
	} `yaml:"store"`

	Host *struct {
		MaxMemoryPages  *uint32   `yaml:"max_memory_pages"`
		CacheMaxEntries *int64    `yaml:"cache_max_entries"`
		WallDeadline    *Duration `yaml:"wall_deadline"`
		SystemGasBudget *uint64   `yaml:"system_gas_budget"`
	} `yaml:"host"`

	Database *struct {
		URL             *string   `yaml:"url"`
		MaxOpenConns    *int      `yaml:"max_open_conns"`
		MaxIdleConns    *int      `yaml:"max_idle_conns"`
		ConnMaxLifetime *Duration `yaml:"conn_max_lifetime"`
		Required        *bool     `yaml:"required"`
	} `yaml:"database"`

	Metrics *struct {
		Enabled *bool   `yaml:"enabled"`
		Addr    *string `yaml:"addr"`
	} `yaml:"metrics"`
}

// LoadFile layers a YAML config file over a base Config (typically the
// result of Load()), so operators can check a devnet.yaml into version
// control while still overriding secrets (database URLs, etc.) through
// the environment. ${VAR} and ${VAR:-default} references in the file
// are substituted against the process environment before parsing.
func LoadFile(path string, base *Config) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var overrides fileOverrides
	if err := yaml.Unmarshal([]byte(substituteEnvVars(string(data))), &overrides); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg := *base
	applyOverrides(&cfg, &overrides)
	return &cfg, nil
}

func applyOverrides(cfg *Config, o *fileOverrides) {
	if o.Node != nil {
		setStr(&cfg.ChainID, o.Node.ChainID)
		setStr(&cfg.Home, o.Node.Home)
		setStr(&cfg.ABCIListenAddr, o.Node.ABCIListenAddr)
		setStr(&cfg.GenesisPath, o.Node.GenesisPath)
		setStr(&cfg.LogLevel, o.Node.LogLevel)
		if o.Node.LogJSON != nil {
			cfg.LogJSON = *o.Node.LogJSON
		}
	}
	if o.Store != nil {
		setStr(&cfg.StoreDataDir, o.Store.DataDir)
	}
	if o.Host != nil {
		if o.Host.MaxMemoryPages != nil {
			cfg.HostMaxMemoryPages = *o.Host.MaxMemoryPages
		}
		if o.Host.CacheMaxEntries != nil {
			cfg.HostCacheMaxEntries = *o.Host.CacheMaxEntries
		}
		if o.Host.WallDeadline != nil {
			cfg.HostWallDeadline = time.Duration(*o.Host.WallDeadline)
		}
		if o.Host.SystemGasBudget != nil {
			cfg.HostSystemGasBudget = *o.Host.SystemGasBudget
		}
	}
	if o.Database != nil {
		setStr(&cfg.DatabaseURL, o.Database.URL)
		if o.Database.MaxOpenConns != nil {
			cfg.DatabaseMaxOpenConns = *o.Database.MaxOpenConns
		}
		if o.Database.MaxIdleConns != nil {
			cfg.DatabaseMaxIdleConns = *o.Database.MaxIdleConns
		}
		if o.Database.ConnMaxLifetime != nil {
			cfg.DatabaseConnMaxLifetime = time.Duration(*o.Database.ConnMaxLifetime)
		}
		if o.Database.Required != nil {
			cfg.DatabaseRequired = *o.Database.Required
		}
	}
	if o.Metrics != nil {
		if o.Metrics.Enabled != nil {
			cfg.MetricsEnabled = *o.Metrics.Enabled
		}
		setStr(&cfg.MetricsAddr, o.Metrics.Addr)
	}
}

func setStr(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultValue := ""
		if len(groups) == 4 {
			defaultValue = groups[3]
		}
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}
