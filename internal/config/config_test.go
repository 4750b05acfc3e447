package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPort_Default(t *testing.T) {
	os.Unsetenv(EnvPort)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != DefaultPort {
		t.Errorf("default Port = %d, want %d", cfg.Port(), DefaultPort)
	}
}

func TestPort_FromEnv(t *testing.T) {
	os.Setenv(EnvPort, "8080")
	defer os.Unsetenv(EnvPort)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port())
	}
}

func TestPort_Invalid(t *testing.T) {
	for _, v := range []string{"abc", "0", "70000"} {
		os.Setenv(EnvPort, v)
		if _, err := New(); err == nil {
			t.Errorf("New() with port %q: expected error", v)
		}
	}
	os.Unsetenv(EnvPort)
}

func TestScratchDir_DefaultsUnderDataDir(t *testing.T) {
	os.Setenv(EnvDataDir, "/data/inspector")
	defer os.Unsetenv(EnvDataDir)
	os.Unsetenv(EnvScratchDir)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := filepath.Join("/data/inspector", "scratch")
	if cfg.ScratchDir() != want {
		t.Errorf("ScratchDir = %q, want %q", cfg.ScratchDir(), want)
	}
}

func TestScratchDir_FromEnv(t *testing.T) {
	os.Setenv(EnvScratchDir, "/tmp/videos")
	defer os.Unsetenv(EnvScratchDir)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ScratchDir() != "/tmp/videos" {
		t.Errorf("ScratchDir = %q, want /tmp/videos", cfg.ScratchDir())
	}
}

func TestDBDriver_DefaultsToSqlite(t *testing.T) {
	os.Unsetenv(EnvDBDriver)
	os.Setenv(EnvDataDir, "/data/inspector")
	defer os.Unsetenv(EnvDataDir)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DBDriver() != "sqlite" {
		t.Errorf("DBDriver = %q, want sqlite", cfg.DBDriver())
	}
	want := filepath.Join("/data/inspector", DBFilename)
	if cfg.DBDSN() != want {
		t.Errorf("DBDSN = %q, want %q", cfg.DBDSN(), want)
	}
}

func TestDBDriver_FromEnv(t *testing.T) {
	os.Setenv(EnvDBDriver, "postgres")
	os.Setenv(EnvDBDSN, "postgres://localhost/inspector?sslmode=disable")
	defer os.Unsetenv(EnvDBDriver)
	defer os.Unsetenv(EnvDBDSN)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DBDriver() != "postgres" {
		t.Errorf("DBDriver = %q, want postgres", cfg.DBDriver())
	}
	if cfg.DBDSN() != "postgres://localhost/inspector?sslmode=disable" {
		t.Errorf("DBDSN = %q", cfg.DBDSN())
	}
}

func TestSceneThreshold_Default(t *testing.T) {
	os.Unsetenv(EnvSceneThreshold)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SceneThreshold() != DefaultSceneThreshold {
		t.Errorf("SceneThreshold = %v, want %v", cfg.SceneThreshold(), DefaultSceneThreshold)
	}
}

func TestSceneThreshold_Invalid(t *testing.T) {
	for _, v := range []string{"nope", "0", "1", "-0.5"} {
		os.Setenv(EnvSceneThreshold, v)
		if _, err := New(); err == nil {
			t.Errorf("New() with threshold %q: expected error", v)
		}
	}
	os.Unsetenv(EnvSceneThreshold)
}

func TestMinMatch_FromEnv(t *testing.T) {
	os.Setenv(EnvMinMatch, "5")
	defer os.Unsetenv(EnvMinMatch)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MinMatch() != 5 {
		t.Errorf("MinMatch = %d, want 5", cfg.MinMatch())
	}
}

func TestMinMatch_Invalid(t *testing.T) {
	os.Setenv(EnvMinMatch, "0")
	defer os.Unsetenv(EnvMinMatch)

	if _, err := New(); err == nil {
		t.Error("New() with min match 0: expected error")
	}
}

func TestMatchEpsilon_FromEnv(t *testing.T) {
	os.Setenv(EnvMatchEpsilon, "0.1")
	defer os.Unsetenv(EnvMatchEpsilon)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MatchEpsilon() != 0.1 {
		t.Errorf("MatchEpsilon = %v, want 0.1", cfg.MatchEpsilon())
	}
}

func TestMatchEpsilon_NegativeRejected(t *testing.T) {
	os.Setenv(EnvMatchEpsilon, "-0.1")
	defer os.Unsetenv(EnvMatchEpsilon)

	if _, err := New(); err == nil {
		t.Error("New() with negative epsilon: expected error")
	}
}
