package graph

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-remediation/internal/models"
)

// LoadFile reads a graph definition ({services, dependencies}) from a YAML or
// JSON file. A missing file yields an empty graph so the poller can discover
// services at runtime.
func LoadFile(path string) (*Graph, error) {
	if path == "" {
		return New(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return New(), nil
		}
		return nil, fmt.Errorf("read graph definition: %w", err)
	}
	return Parse(data)
}

// Parse decodes a graph definition. JSON documents are accepted as YAML.
func Parse(data []byte) (*Graph, error) {
	var snap models.GraphSnapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse graph definition: %w", err)
	}
	for i, node := range snap.Services {
		if node.ID == "" {
			return nil, fmt.Errorf("graph definition: service %d has no id", i)
		}
	}
	return FromSnapshot(snap), nil
}
