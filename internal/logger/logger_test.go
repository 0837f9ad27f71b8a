package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveLogFilePathDefaultDir(t *testing.T) {
	tmpDir := t.TempDir()
	oldWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("get wd failed: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(oldWD)
	})
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}

	got, err := resolveLogFilePath(Options{})
	if err != nil {
		t.Fatalf("resolve default log path failed: %v", err)
	}

	realTmpDir, err := filepath.EvalSymlinks(tmpDir)
	if err != nil {
		t.Fatalf("resolve tmp dir symlink failed: %v", err)
	}
	realGot, err := filepath.EvalSymlinks(filepath.Dir(got))
	if err != nil {
		t.Fatalf("resolve got dir symlink failed: %v", err)
	}
	expectedDir := filepath.Join(realTmpDir, defaultLogDirName)
	if realGot != expectedDir {
		t.Fatalf("unexpected log dir: got=%s expected=%s", realGot, expectedDir)
	}
	if filepath.Base(got) != defaultLogFilename {
		t.Fatalf("unexpected log filename: %s", filepath.Base(got))
	}
	if _, err := os.Stat(filepath.Dir(got)); err != nil {
		t.Fatalf("expected log dir to be created: %v", err)
	}
}

func TestNewReleaseWritesToConfiguredFile(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := Options{
		Dir:      tmpDir,
		Filename: "release.log",
	}
	log := New("release", cfg)
	log.Info("release-log-test")
	_ = log.Sync()

	content, err := os.ReadFile(filepath.Join(tmpDir, "release.log"))
	if err != nil {
		t.Fatalf("read release log failed: %v", err)
	}
	if !strings.Contains(string(content), "release-log-test") {
		t.Fatalf("expected log content to contain message, got=%s", string(content))
	}
}

func TestNewConsoleDoesNotWriteFile(t *testing.T) {
	tmpDir := t.TempDir()
	for _, tc := range []struct {
		mode    string
		console bool
	}{
		{mode: "debug"},
		{mode: "release", console: true},
	} {
		cfg := Options{Dir: tmpDir, Filename: "console.log", Console: tc.console}
		log := New(tc.mode, cfg)
		log.Info("console-log-test")
		_ = log.Sync()

		if _, err := os.Stat(filepath.Join(tmpDir, "console.log")); !os.IsNotExist(err) {
			t.Fatalf("mode=%s console=%v should not create log file", tc.mode, tc.console)
		}
	}
}

func TestExplicitLevelOverridesMode(t *testing.T) {
	tmpDir := t.TempDir()
	log := New("release", Options{Dir: tmpDir, Filename: "level.log", Level: "warn"})
	log.Info("engine_info_suppressed")
	log.Warn("engine_warn_kept")
	_ = log.Sync()

	content, err := os.ReadFile(filepath.Join(tmpDir, "level.log"))
	if err != nil {
		t.Fatalf("read level log failed: %v", err)
	}
	if strings.Contains(string(content), "engine_info_suppressed") {
		t.Fatalf("info should be filtered at warn level, got=%s", string(content))
	}
	if !strings.Contains(string(content), "engine_warn_kept") {
		t.Fatalf("warn should be written, got=%s", string(content))
	}

	if lvl := resolveLevel("bogus", true); lvl.Level().String() != "debug" {
		t.Fatalf("invalid level should fall back to mode default, got %s", lvl.Level())
	}
}
