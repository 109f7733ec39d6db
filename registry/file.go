package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type deviceFile struct {
	Devices []Device `yaml:"devices"`
}

// LoadFile reads a YAML device list:
//
//	devices:
//	  - id: gen-01
//	    name: North site
//	    unitId: 1
func LoadFile(path string) (*Registry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read device registry: %w", err)
	}
	var f deviceFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("unmarshal device registry: %w", err)
	}
	return New(f.Devices)
}
