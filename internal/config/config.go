// Package config defines the router's configuration value object and a
// thin YAML loader: a narrow "give me a path, get a struct" interface
// with no validation, hot-reload, or templating layered on top.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SchedConfig mirrors router.sched.* keys: the scheduling policy applied
// to the router's own dispatch thread (distinct from a loaded
// application's own SchedConfig, which travels in LoadAppRequest).
type SchedConfig struct {
	Policy     string `yaml:"policy"` // "normal", "fifo", or "deadline"
	Priority   int    `yaml:"priority"`
	RuntimeUS  int64  `yaml:"runtime_us"`
	PeriodUS   int64  `yaml:"period_us"`
	DeadlineUS int64  `yaml:"deadline_us"`
}

// IPCConfig mirrors the ipc.* keys identifying the shared-memory
// transport the router attaches to.
type IPCConfig struct {
	Name      string `yaml:"name"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// Config is the full set of router.yaml keys.
type Config struct {
	Router struct {
		AffinityMask uint64      `yaml:"affinity_mask"`
		Sched        SchedConfig `yaml:"sched"`
	} `yaml:"router"`
	IPC  IPCConfig `yaml:"ipc"`
	Rest struct {
		Port int `yaml:"port"`
	} `yaml:"rest"`
}

// Default returns the documented defaults used when no --config flag is
// given: time-sharing scheduling, no CPU pinning, REST on :8080.
func Default() *Config {
	c := &Config{}
	c.Router.Sched.Policy = "normal"
	c.Rest.Port = 8080
	return c
}

// Load parses the YAML file at path into a Config. It performs no
// validation beyond what yaml.v3 does while unmarshaling.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return c, nil
}

// AffinityCPUs expands the bitmask into a slice of CPU indices, the
// shape sched.Scheduler.Apply expects.
func (c *Config) AffinityCPUs() []int {
	var cpus []int
	for i := 0; i < 64; i++ {
		if c.Router.AffinityMask&(1<<uint(i)) != 0 {
			cpus = append(cpus, i)
		}
	}
	return cpus
}
