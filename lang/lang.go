package lang

import "fmt"

// Config defines how one language is provisioned and executed inside a
// pooled container.
type Config struct {
	// Image is the container image kept warm for this language.
	Image string
	// KeepAlive is the command that holds the container open between
	// executions.
	KeepAlive []string
	// FileName is the workspace file the submitted code is written to.
	FileName string
	// ExecArgs returns the argv that runs the workspace file.
	ExecArgs func(path string) []string
	// Env redirects runtime cache and scratch paths into the tmpfs.
	// Containers run with a read-only root filesystem, so anything the
	// toolchain writes must land under /tmp.
	Env []string
}

// Workspace is the scratch directory wiped between executions.
const Workspace = "/tmp/code"

var configs = map[string]Config{
	"python": {
		Image:     "python:3.11-slim",
		KeepAlive: []string{"tail", "-f", "/dev/null"},
		FileName:  "main.py",
		ExecArgs:  func(path string) []string { return []string{"python3", path} },
	},
	"js": {
		Image:     "node:20-slim",
		KeepAlive: []string{"tail", "-f", "/dev/null"},
		FileName:  "main.js",
		ExecArgs:  func(path string) []string { return []string{"node", path} },
	},
	"go": {
		Image:     "golang:1.22-alpine",
		KeepAlive: []string{"tail", "-f", "/dev/null"},
		FileName:  "main.go",
		ExecArgs:  func(path string) []string { return []string{"go", "run", path} },
		Env:       []string{"HOME=/tmp", "GOCACHE=/tmp/.gocache", "GOTMPDIR=/tmp"},
	},
	"cpp": {
		Image:     "gcc:13",
		KeepAlive: []string{"tail", "-f", "/dev/null"},
		FileName:  "main.cpp",
		ExecArgs: func(path string) []string {
			return []string{"sh", "-c", fmt.Sprintf("g++ -o /tmp/code/prog %s && /tmp/code/prog", path)}
		},
	},
}

// Get retrieves the configuration for a language.
func Get(language string) (Config, bool) {
	config, ok := configs[language]
	return config, ok
}

// Supported reports whether a language has an execution configuration.
func Supported(language string) bool {
	_, ok := configs[language]
	return ok
}

// Languages returns the supported language identifiers.
func Languages() []string {
	out := make([]string, 0, len(configs))
	for name := range configs {
		out = append(out, name)
	}
	return out
}
