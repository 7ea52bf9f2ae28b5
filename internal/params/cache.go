// Package params loads per-model dynamics parameter dictionaries and memoizes
// them by file path, so models sharing a parameter file parse it once.
package params

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/clinssen/bmtk/internal/constants"
	"gopkg.in/yaml.v3"
)

// ErrParams marks a dynamics parameter file that could not be resolved, read or parsed.
var ErrParams = errors.New("dynamics params")

// Source describes where a node batch takes its dynamics parameters from.
type Source interface {
	// DynamicsParams returns inline parameters, if the batch carries any.
	DynamicsParams() (map[string]any, bool)

	// ParamsFile returns the parameter file name, relative to the models directory.
	ParamsFile() string
}

// ComponentResolver resolves named component directories such as "models_dir".
type ComponentResolver interface {
	Component(name string) (string, error)
}

// Cache memoizes parsed parameter files by resolved path for the lifetime of
// the network that owns it. It is not safe for concurrent use.
type Cache struct {
	resolver ComponentResolver
	entries  map[string]map[string]any
	readFile func(string) ([]byte, error)
}

// NewCache returns an empty cache resolving relative parameter files against
// the resolver's models directory. resolver may be nil when every batch
// carries inline parameters or absolute paths.
func NewCache(resolver ComponentResolver) *Cache {
	return &Cache{
		resolver: resolver,
		entries:  make(map[string]map[string]any),
		readFile: os.ReadFile,
	}
}

// Get returns the dynamics parameters for src. Inline parameters win; otherwise
// the file is loaded once and the same map is returned on later calls. A
// source with neither is an error. The returned map is shared: callers must
// not mutate it.
func (c *Cache) Get(src Source) (map[string]any, error) {
	if inline, ok := src.DynamicsParams(); ok {
		return inline, nil
	}

	file := src.ParamsFile()
	if file == "" {
		return nil, fmt.Errorf("%w: no inline parameters and no parameter file", ErrParams)
	}

	path, err := c.resolve(file)
	if err != nil {
		return nil, err
	}
	if cached, ok := c.entries[path]; ok {
		return cached, nil
	}

	loaded, err := c.load(path)
	if err != nil {
		return nil, err
	}
	c.entries[path] = loaded
	return loaded, nil
}

// Len returns the number of cached parameter files.
func (c *Cache) Len() int {
	return len(c.entries)
}

func (c *Cache) resolve(file string) (string, error) {
	if filepath.IsAbs(file) {
		return filepath.Clean(file), nil
	}
	if c.resolver == nil {
		return "", fmt.Errorf("%w: %s: no component resolver for %s", ErrParams, file, constants.ModelsDirComponent)
	}
	dir, err := c.resolver.Component(constants.ModelsDirComponent)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrParams, file, err)
	}
	return filepath.Join(dir, file), nil
}

func (c *Cache) load(path string) (map[string]any, error) {
	data, err := c.readFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrParams, path, err)
	}

	var out map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &out)
	default:
		err = yaml.Unmarshal(data, &out)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %w", ErrParams, path, err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
