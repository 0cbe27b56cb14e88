package lang

import (
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	cfg, ok := Get("python")
	if !ok {
		t.Fatal("python not configured")
	}
	if cfg.Image == "" || cfg.FileName == "" || len(cfg.KeepAlive) == 0 {
		t.Fatalf("incomplete config: %+v", cfg)
	}

	if _, ok := Get("fortran"); ok {
		t.Fatal("unknown language reported as configured")
	}
}

func TestExecArgsReferenceWorkspaceFile(t *testing.T) {
	for _, language := range Languages() {
		cfg, _ := Get(language)
		path := Workspace + "/" + cfg.FileName
		args := cfg.ExecArgs(path)
		if len(args) == 0 {
			t.Fatalf("%s: empty exec args", language)
		}
		if !strings.Contains(strings.Join(args, " "), path) {
			t.Errorf("%s: exec args %v do not reference %s", language, args, path)
		}
	}
}

func TestEnvRedirectsWritesIntoTmpfs(t *testing.T) {
	for _, language := range Languages() {
		cfg, _ := Get(language)
		for _, entry := range cfg.Env {
			i := strings.IndexByte(entry, '=')
			if i < 0 {
				t.Errorf("%s: malformed env entry %q", language, entry)
				continue
			}
			if value := entry[i+1:]; !strings.HasPrefix(value, "/tmp") {
				t.Errorf("%s: %q points outside the tmpfs; the root filesystem is read-only", language, entry)
			}
		}
	}
}

func TestSupportedMatchesLanguages(t *testing.T) {
	for _, language := range Languages() {
		if !Supported(language) {
			t.Errorf("%s listed but not supported", language)
		}
	}
	if Supported("") {
		t.Error("empty language supported")
	}
}
