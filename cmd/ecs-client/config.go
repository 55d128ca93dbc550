package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ipi-ecs/ecs/pkg/dds"
)

// SubsystemConfig describes one demo subsystem: its name and every KV
// property it should declare. Each Events entry registers a handler that
// simply echoes its parameter back,
// which is enough to exercise CALL_EVENT/RCALL_EVENT/EVENT_RET end to end
// without any application logic.
type SubsystemConfig struct {
	Name      string        `yaml:"name"`
	Temporary bool          `yaml:"temporary"`
	KVs       []KVConfig    `yaml:"kvs"`
	Events    []EventConfig `yaml:"events"`
}

// KVConfig describes one local property.
type KVConfig struct {
	Key       string `yaml:"key"`
	Type      string `yaml:"type"` // "bytes", "int", "unspec"
	Published bool   `yaml:"published"`
	Readable  bool   `yaml:"readable"`
	Writable  bool   `yaml:"writable"`
	Initial   string `yaml:"initial"`
}

// EventConfig describes an echo-style event handler to register.
type EventConfig struct {
	Name string `yaml:"name"`
}

// DemoConfig is the top-level document loaded from --config.
type DemoConfig struct {
	Subsystems []SubsystemConfig `yaml:"subsystems"`
}

func loadDemoConfig(path string) (DemoConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DemoConfig{}, fmt.Errorf("ecs-client: reading config: %w", err)
	}
	var cfg DemoConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return DemoConfig{}, fmt.Errorf("ecs-client: parsing config: %w", err)
	}
	return cfg, nil
}

func typeSpecifierFromName(name string) dds.TypeSpecifier {
	switch name {
	case "int":
		return dds.IntegerTypeSpecifier{}
	case "bytes":
		return dds.ByteType{}
	default:
		return dds.UnspecType{}
	}
}
