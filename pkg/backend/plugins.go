package backend

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/neurogrid/xferbench/pkg/gpu"
)

// pluginPrefix and pluginSuffix form the shared-object naming convention
// used for backend discovery: libplugin_<NAME>.so.
const (
	pluginPrefix = "libplugin_"
	pluginSuffix = ".so"
)

// Discover scans pluginDir for backend plugins and returns their names.
func Discover(pluginDir string) ([]string, error) {
	entries, err := os.ReadDir(pluginDir)
	if err != nil {
		return nil, fmt.Errorf("read plugin dir %s: %w", pluginDir, err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, pluginPrefix) || !strings.HasSuffix(name, pluginSuffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(strings.TrimPrefix(name, pluginPrefix), pluginSuffix))
	}
	sort.Strings(names)
	return names, nil
}

// Open constructs the named backend. When cfg.PluginDir is set the name
// must have been discovered there.
func Open(name string, cfg Config) (Backend, error) {
	if cfg.PluginDir != "" {
		available, err := Discover(cfg.PluginDir)
		if err != nil {
			return nil, err
		}
		found := false
		for _, n := range available {
			if n == name {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %s not in %s (available: %v)",
				ErrPluginNotFound, name, cfg.PluginDir, available)
		}
	}

	switch name {
	case PluginUCX:
		return NewHostBackend(cfg)
	case PluginGDS:
		return NewGDSBackend(cfg)
	case PluginPOSIX:
		return NewPOSIXBackend(cfg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, name)
	}
}

// Params returns descriptive parameters for a plugin name, for diagnostics.
func Params(name string) (map[string]string, error) {
	switch name {
	case PluginUCX:
		return map[string]string{
			"mem_types": "DRAM,VRAM",
			"transport": "libp2p stream",
			"cuda":      fmt.Sprintf("%t", gpu.IsCUDAAvailable()),
		}, nil
	case PluginGDS:
		return map[string]string{
			"mem_types": "DRAM,VRAM,FILE",
			"transport": "file offset I/O",
			"cuda":      fmt.Sprintf("%t", gpu.IsCUDAAvailable()),
		}, nil
	case PluginPOSIX:
		return map[string]string{
			"mem_types": "DRAM,FILE",
			"transport": "file offset I/O",
			"cuda":      "false",
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, name)
	}
}
