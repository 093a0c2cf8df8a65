package main

import "time"

// Config is the trackergen TOML configuration.
type Config struct {
	HTTP   HTTPConfig   `mapstructure:"http"`
	Output OutputConfig `mapstructure:"output"`
	Lists  []SourceList `mapstructure:"lists"`
}

// HTTPConfig contains HTTP client settings.
type HTTPConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	Retries  int           `mapstructure:"retries"`
	Parallel int           `mapstructure:"parallel"`
}

// OutputConfig controls the generated tracker list.
type OutputConfig struct {
	Path           string `mapstructure:"path"`
	MaxDomains     int    `mapstructure:"max_domains"`
	IncludeDefault bool   `mapstructure:"include_default"`
}

// SourceList is one filter list to pull domains from.
type SourceList struct {
	Name    string `mapstructure:"name"`
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

// EnabledLists returns only enabled source lists.
func (c *Config) EnabledLists() []SourceList {
	var enabled []SourceList
	for _, l := range c.Lists {
		if l.Enabled {
			enabled = append(enabled, l)
		}
	}
	return enabled
}

const defaultConfig = `# Tracker list generator configuration

# HTTP client settings
[http]
timeout = "30s"
retries = 3
parallel = 4

# Output settings
[output]
path = "./internal/trackerlist/default_trackers.json"
max_domains = 0
include_default = true

# Filter lists to pull "||domain^" rules from
# Set enabled = false to skip a list

[[lists]]
name = "easyprivacy"
url = "https://easylist.to/easylist/easyprivacy.txt"
enabled = true

[[lists]]
name = "ublock-privacy"
url = "https://ublockorigin.github.io/uAssets/filters/privacy.txt"
enabled = true

[[lists]]
name = "peter-lowe"
url = "https://pgl.yoyo.org/adservers/serverlist.php?hostformat=adblockplus&showintro=0&mimetype=plaintext"
enabled = false
`
