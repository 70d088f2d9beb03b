// update_yaml.go: in-place updates of single keys in the config file
package conf

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// configFileMutex serializes read-modify-write cycles on the config file.
var configFileMutex sync.Mutex

// UpdateYAMLZones replaces the motion.zones value in the config file at
// configPath with zones. Every other key, value and comment of the file is
// preserved. The file is replaced atomically.
func UpdateYAMLZones(configPath string, zones []ZoneSettings) error {
	if zones == nil {
		zones = []ZoneSettings{}
	}

	var value yaml.Node
	if err := value.Encode(zones); err != nil {
		return fmt.Errorf("error encoding zones: %w", err)
	}

	return UpdateYAMLNode(configPath, []string{"motion", "zones"}, &value)
}

// UpdateYAMLNode sets the value at path (a list of mapping keys) in the config
// file to value, creating intermediate mappings as needed.
func UpdateYAMLNode(configPath string, path []string, value *yaml.Node) error {
	if len(path) == 0 {
		return fmt.Errorf("empty key path")
	}

	configFileMutex.Lock()
	defer configFileMutex.Unlock()

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}
	if doc.Kind == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return fmt.Errorf("config file %s is not a YAML mapping", configPath)
	}

	node := doc.Content[0]
	for _, key := range path[:len(path)-1] {
		child, err := mappingChild(node, key, true)
		if err != nil {
			return err
		}
		node = child
	}
	if err := setMappingValue(node, path[len(path)-1], value); err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("error encoding config file: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("error encoding config file: %w", err)
	}

	return writeFileAtomic(configPath, buf.Bytes())
}

// mappingChild returns the mapping stored under key in m, appending an empty
// mapping when the key is missing and create is set.
func mappingChild(m *yaml.Node, key string, create bool) (*yaml.Node, error) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if strings.EqualFold(m.Content[i].Value, key) {
			child := m.Content[i+1]
			if child.Kind != yaml.MappingNode {
				// "motion:" with no value parses as a null scalar
				if child.Tag == "!!null" {
					*child = yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
					return child, nil
				}
				return nil, fmt.Errorf("config key %q is not a mapping", key)
			}
			return child, nil
		}
	}
	if !create {
		return nil, fmt.Errorf("config key %q not found", key)
	}
	child := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	m.Content = append(m.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		child)
	return child, nil
}

// setMappingValue replaces the value under key in m, or appends the pair.
// Comments attached to the old value move to the new one.
func setMappingValue(m *yaml.Node, key string, value *yaml.Node) error {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if !strings.EqualFold(m.Content[i].Value, key) {
			continue
		}
		old := m.Content[i+1]
		if old.LineComment != "" && m.Content[i].LineComment == "" {
			m.Content[i].LineComment = old.LineComment
		}
		if value.FootComment == "" {
			value.FootComment = old.FootComment
		}
		m.Content[i+1] = value
		return nil
	}
	m.Content = append(m.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		value)
	return nil
}

// writeFileAtomic writes data to a temporary file next to path and renames it
// into place, keeping the mode of an existing file.
func writeFileAtomic(path string, data []byte) error {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tempFile, err := os.CreateTemp(filepath.Dir(path), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Chmod(mode); err != nil {
		tempFile.Close()
		return fmt.Errorf("error setting config file mode: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, path); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}
	return nil
}
