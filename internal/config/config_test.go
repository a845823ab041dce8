package config

import (
	"os"
	"path/filepath"
	"testing"

	"appforge/internal/tools"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxPasses != DefaultMaxPasses {
		t.Errorf("max passes = %d", cfg.MaxPasses)
	}
	if cfg.ReminderBudget != DefaultReminderBudget {
		t.Errorf("reminder budget = %d", cfg.ReminderBudget)
	}
	if cfg.Listen != DefaultListenAddr {
		t.Errorf("listen = %q", cfg.Listen)
	}
	if !cfg.Explore {
		t.Error("explore should default on")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "appforge.yaml")
	content := `project_root: /tmp/myapp
listen: 127.0.0.1:9900
max_passes: 5
reminder_budget: 2
model:
  base_url: https://api.example.com/v1
  name: big-model
  token_env: MY_TOKEN
app_command: npm run dev
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ProjectRoot != "/tmp/myapp" || cfg.Listen != "127.0.0.1:9900" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.MaxPasses != 5 || cfg.ReminderBudget != 2 {
		t.Errorf("bounds = %d/%d", cfg.MaxPasses, cfg.ReminderBudget)
	}
	if cfg.Model.BaseURL != "https://api.example.com/v1" || cfg.Model.Name != "big-model" {
		t.Errorf("model = %+v", cfg.Model)
	}

	t.Setenv("MY_TOKEN", "sekrit")
	if got := cfg.Model.Token(); got != "sekrit" {
		t.Errorf("token = %q", got)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, ".env"), []byte("APPFORGE_MODEL_TOKEN=from-dotenv\n"), 0o644)
	t.Setenv("APPFORGE_MODEL_TOKEN", "") // godotenv does not override, so clear first
	os.Unsetenv("APPFORGE_MODEL_TOKEN")

	cfg, err := Load(filepath.Join(dir, "appforge.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.Model.Token(); got != "from-dotenv" {
		t.Errorf("token = %q", got)
	}
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("listen: [unclosed"), 0o644)
	if _, err := Load(path); err == nil {
		t.Error("want parse error")
	}
}

func TestFilePolicies(t *testing.T) {
	root := t.TempDir()

	p, err := OpenPolicies(root)
	if err != nil {
		t.Fatal(err)
	}
	if got := p.Effective("delete_file"); got != "" {
		t.Errorf("fresh store = %q", got)
	}

	if err := p.SetPolicy("delete_file", tools.PolicyAlways); err != nil {
		t.Fatal(err)
	}
	if err := p.SetPolicy("execute_sql", tools.PolicyDenied); err != nil {
		t.Fatal(err)
	}

	// A fresh open sees the persisted overrides.
	p2, err := OpenPolicies(root)
	if err != nil {
		t.Fatal(err)
	}
	if got := p2.Effective("delete_file"); got != tools.PolicyAlways {
		t.Errorf("delete_file = %q", got)
	}
	if got := p2.Effective("execute_sql"); got != tools.PolicyDenied {
		t.Errorf("execute_sql = %q", got)
	}
}

func TestFilePoliciesCorrupt(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, ".appforge")
	os.MkdirAll(dir, 0o755)
	os.WriteFile(filepath.Join(dir, "consent.yaml"), []byte("{{{{"), 0o644)

	if _, err := OpenPolicies(root); err == nil {
		t.Error("want error for corrupt overrides")
	}
}
