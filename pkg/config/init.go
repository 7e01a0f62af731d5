package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// configHeader opens every generated configuration file.
const configHeader = `# plevy Configuration File
#
# Generated by 'plevy init'. Every key can be overridden with an
# environment variable: PLEVY_<SECTION>_<KEY>, for example
# PLEVY_ADAPTERS_FUSE_MOUNT_POINT=/mnt/media.
`

// sections lists the top-level keys in file order with their comments.
var sections = []struct {
	key     string
	comment string
}{
	{"logging", "Logging: level (DEBUG, INFO, WARN, ERROR), format (text, json)\nand output (stdout, stderr or a file path)"},
	{"server", "Process-wide settings. lock_file keeps a second instance from\nserving the same mount point"},
	{"entries", "Entry store: memory (lost on restart) or badger (persistent).\nOnly the section matching type is used"},
	{"content", "Content source: filesystem, memory or s3. Items are read from\n<path>/<source_id>/<index> or <key_prefix><source_id>/<index>"},
	{"projection", "Ownership of projected files and whether sizes are resolved\nfrom the content source"},
	{"adapters", "Protocol adapters. FUSE mounts the projection locally, the API\nmanages entries, NFS exports the projection to other hosts"},
	{"integrations", "Media server endpoints, shown at startup"},
}

// InitConfig writes a default configuration file to the default location.
//
// Returns the path written. Fails if the file exists and force is false.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a default configuration file to path, creating
// parent directories as needed.
func InitConfigToPath(path string, force bool) error {
	return WriteConfig(path, GetDefaultConfig(), force)
}

// WriteConfig writes cfg to path as commented YAML.
func WriteConfig(path string, cfg *Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	data, err := generateYAMLWithComments(cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The file may carry S3 credentials or a Plex token
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// generateYAMLWithComments renders cfg with its sections in a fixed order,
// each preceded by a comment.
func generateYAMLWithComments(cfg *Config) (string, error) {
	// Struct fields carry mapstructure tags only, so go through a map to
	// get the same key names viper reads back
	var values map[string]any
	if err := mapstructure.Decode(cfg, &values); err != nil {
		return "", fmt.Errorf("failed to convert config: %w", err)
	}

	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, s := range sections {
		var value yaml.Node
		if err := value.Encode(values[s.key]); err != nil {
			return "", fmt.Errorf("failed to encode %s: %w", s.key, err)
		}
		key := &yaml.Node{
			Kind:        yaml.ScalarNode,
			Value:       s.key,
			HeadComment: s.comment,
		}
		root.Content = append(root.Content, key, &value)
	}

	var buf bytes.Buffer
	buf.WriteString(configHeader)
	buf.WriteString("\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{root}}); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	return buf.String(), nil
}
