package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// forbiddenPatterns are rejected anywhere in a user-supplied script body.
// The engine runs the body verbatim, so anything that escapes the document
// sandbox has to be caught here.
var forbiddenPatterns = []string{
	"import os",
	"import sys",
	"import subprocess",
	"import shutil",
	"import socket",
	"__import__",
	"exec(",
	"eval(",
	"open(",
	"os.system",
	"os.popen",
}

var ErrForbiddenScript = errors.New("script contains forbidden pattern")

// ValidateScript rejects bodies containing patterns that reach outside the
// engine document model.
func ValidateScript(body string) error {
	lowered := strings.ToLower(body)
	for _, pattern := range forbiddenPatterns {
		if strings.Contains(lowered, pattern) {
			return fmt.Errorf("%w: %q", ErrForbiddenScript, pattern)
		}
	}
	return nil
}

// scriptPreamble times the run and prepares the result channel. The body
// appends its results to the `result` dict, the postamble writes it to the
// path in CAMFORGE_OUT and prints the elapsed marker.
const scriptPreamble = `import json, time
_started = time.time()
result = {}
`

const scriptPostamble = `
import os as _os
_out = _os.environ.get("CAMFORGE_OUT")
if _out:
    with open(_out, "w") as _f:
        json.dump(result, _f)
print("ELAPSED_MS=%d" % int((time.time() - _started) * 1000))
`

// WriteScript validates the body, wraps it with the preamble and postamble
// and writes it into dir. The returned path is what the engine executes.
func WriteScript(dir, name, body string) (string, error) {
	if err := ValidateScript(body); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create script directory: %w", err)
	}

	path := filepath.Join(dir, name+".py")
	content := scriptPreamble + body + scriptPostamble
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write script: %w", err)
	}
	return path, nil
}
