// Package main inspects the backend plugin directory and reports which
// transfer backends are usable on this host.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/neurogrid/xferbench/pkg/backend"
)

func main() {
	pluginDir := flag.String("plugin-dir", os.Getenv("XFER_PLUGIN_DIR"), "Backend plugin directory")
	flag.Parse()

	fmt.Printf("Plugin directory: %s\n", dirLabel(*pluginDir))

	var discovered []string
	if *pluginDir != "" {
		var err error
		discovered, err = backend.Discover(*pluginDir)
		if err != nil {
			log.Fatalf("Error: discover plugins: %v", err)
		}
		fmt.Printf("Discovered plugins: %d\n", len(discovered))
		for _, name := range discovered {
			fmt.Printf("  %s\n", name)
		}
	}

	fmt.Println()
	gdsSeen := false
	for _, name := range []string{backend.PluginUCX, backend.PluginGDS, backend.PluginPOSIX} {
		params, err := backend.Params(name)
		if err != nil {
			fmt.Printf("%-6s unavailable: %v\n", name, err)
			continue
		}
		if name == backend.PluginGDS {
			gdsSeen = true
		}
		fmt.Printf("%-6s", name)
		for k, v := range params {
			fmt.Printf(" %s=%s", k, v)
		}
		fmt.Println()
	}

	if *pluginDir != "" && !contains(discovered, backend.PluginGDS) {
		gdsSeen = false
	}
	if !gdsSeen {
		fmt.Println("\nHint: GDS plugin not found; storage benchmarks will fall back to POSIX file I/O.")
	}
}

func dirLabel(dir string) string {
	if dir == "" {
		return "(not set, built-in backends only)"
	}
	return dir
}

func contains(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}
