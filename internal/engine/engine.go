// Package engine locates the headless CAD engine binary and builds the
// per-task scripts it executes. The engine is a python-scriptable kernel,
// every task hands it a generated script and collects results from a JSON
// file the script writes before exiting.
package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// OutputEnvVar names the environment variable carrying the path the script
// must write its result JSON to.
const OutputEnvVar = "CAMFORGE_OUT"

// elapsedMarker prefixes the line on which scripts report their own wall
// time in milliseconds.
const elapsedMarker = "ELAPSED_MS="

// wellKnownPaths is searched after the configured path and PATH lookup.
var wellKnownPaths = []string{
	"/usr/bin/freecadcmd",
	"/usr/bin/FreeCADCmd",
	"/usr/local/bin/freecadcmd",
	"/Applications/FreeCAD.app/Contents/MacOS/FreeCADCmd",
	"C:\\Program Files\\FreeCAD\\bin\\FreeCADCmd.exe",
}

var ErrEngineNotFound = errors.New("engine binary not found")

// Discover resolves the engine binary. The configured path wins, then a
// PATH lookup, then the well-known install locations. The resolved binary is
// probed with --version so a stale configuration fails at startup rather
// than on the first job.
func Discover(ctx context.Context, configured string) (string, error) {
	candidates := make([]string, 0, len(wellKnownPaths)+2)
	if configured != "" {
		candidates = append(candidates, configured)
	}
	if found, err := exec.LookPath("freecadcmd"); err == nil {
		candidates = append(candidates, found)
	}
	candidates = append(candidates, wellKnownPaths...)

	for _, candidate := range candidates {
		version, err := probe(ctx, candidate)
		if err != nil {
			continue
		}
		zap.S().Named("engine").Infof("using engine %s (%s)", candidate, version)
		return candidate, nil
	}
	return "", ErrEngineNotFound
}

func probe(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "--version").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("probe %s: %w", path, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// ParseElapsed scans process stdout for the ELAPSED_MS marker the script
// preamble emits. Returns 0 when absent.
func ParseElapsed(stdout string) int64 {
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	var elapsed int64
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, elapsedMarker) {
			continue
		}
		if v, err := strconv.ParseInt(strings.TrimPrefix(line, elapsedMarker), 10, 64); err == nil {
			elapsed = v
		}
	}
	return elapsed
}
