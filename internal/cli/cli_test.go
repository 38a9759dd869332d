package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tOgg1/approvalq/internal/config"
	"github.com/tOgg1/approvalq/internal/enqueue"
	"github.com/tOgg1/approvalq/internal/sweep"
)

func setupCLI(t *testing.T) *config.Config {
	t.Helper()
	tmpDir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Global.DataDir = filepath.Join(tmpDir, "data")
	cfg.Global.ConfigDir = filepath.Join(tmpDir, "config")
	cfg.Email.Environment = "development"
	cfg.Email.TransportUser = ""

	originalCfg := appConfig
	originalContext := contextPath
	appConfig = cfg
	contextPath = filepath.Join(tmpDir, "context.yaml")
	t.Cleanup(func() {
		appConfig = originalCfg
		contextPath = originalContext
	})
	resetFlags()
	t.Cleanup(resetFlags)
	return cfg
}

func resetFlags() {
	jsonOutput = false
	jsonlOutput = false
	quietOutput = false
	instanceFlag = ""
	useClear = false
	sweepAll = false
	migrateDryRun = false
	enqueueDetails = ""
	enqueueDetailsFile = ""
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	rootCmd.SetOut(nil)
	return out.String(), err
}

func TestMigrateDryRunThenApply(t *testing.T) {
	setupCLI(t)

	out, err := runCLI(t, "migrate", "--dry-run", "--json", "--instance", "dev")
	if err != nil {
		t.Fatalf("migrate --dry-run: %v", err)
	}
	var reports []MigrationReport
	if err := json.Unmarshal([]byte(out), &reports); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(reports) != 1 || len(reports[0].Pending) == 0 || reports[0].Applied != 0 {
		t.Fatalf("unexpected dry run report: %+v", reports)
	}

	out, err = runCLI(t, "migrate", "--json", "--instance", "dev")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := json.Unmarshal([]byte(out), &reports); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reports[0].Applied == 0 {
		t.Fatalf("expected migrations to apply: %+v", reports)
	}
}

func TestUseAndInstances(t *testing.T) {
	setupCLI(t)

	if _, err := runCLI(t, "use", "staging"); err == nil {
		t.Fatal("expected unknown instance error")
	}

	out, err := runCLI(t, "use", "dev")
	if err != nil {
		t.Fatalf("use dev: %v", err)
	}
	if !strings.Contains(out, "instance:dev") {
		t.Fatalf("unexpected output: %q", out)
	}

	out, err = runCLI(t, "instances", "--json")
	if err != nil {
		t.Fatalf("instances: %v", err)
	}
	var statuses []InstanceStatus
	if err := json.Unmarshal([]byte(out), &statuses); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(statuses) != 3 {
		t.Fatalf("expected 3 instances, got %d", len(statuses))
	}
	for _, s := range statuses {
		if s.Selected != (s.Name == "dev") {
			t.Errorf("instance %s selected=%v", s.Name, s.Selected)
		}
	}

	if _, err := runCLI(t, "use", "--clear"); err != nil {
		t.Fatalf("use --clear: %v", err)
	}
	if _, err := resolveInstance(); err == nil {
		t.Fatal("expected no instance after clear")
	}
}

func TestInstancesReportsUnreachableStore(t *testing.T) {
	cfg := setupCLI(t)
	cfg.Instances = append(cfg.Instances, config.InstanceConfig{
		Name:   "staging",
		Driver: "pgx",
		DSN:    "postgres://approvalq@127.0.0.1:1/approvalq?connect_timeout=1&sslmode=disable",
	})

	out, err := runCLI(t, "instances", "--json")
	if err != nil {
		t.Fatalf("instances: %v", err)
	}
	var statuses []InstanceStatus
	if err := json.Unmarshal([]byte(out), &statuses); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(statuses) != 4 {
		t.Fatalf("expected 4 instances, got %d", len(statuses))
	}
	for _, s := range statuses {
		if (s.Error != "") != (s.Name == "staging") {
			t.Errorf("instance %s error=%q", s.Name, s.Error)
		}
	}

	out, err = runCLI(t, "migrate", "--json")
	if err == nil {
		t.Fatal("expected migrate to report the unreachable instance")
	}
	var reports []MigrationReport
	if err := json.Unmarshal([]byte(out), &reports); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(reports) != 4 {
		t.Fatalf("expected a report per instance, got %+v", reports)
	}
	for _, r := range reports {
		if (r.Error != "") != (r.Instance == "staging") {
			t.Errorf("instance %s migration report: %+v", r.Instance, r)
		}
	}
}

func TestEnqueueWithoutAdministrators(t *testing.T) {
	setupCLI(t)

	// The host tables are absent in a fresh store, so the directory lookup fails.
	_, err := runCLI(t, "enqueue", "payment", "42", "--instance", "dev")
	if err == nil {
		t.Fatal("expected directory error without host tables")
	}

	if _, err := runCLI(t, "enqueue", "loan", "42", "--instance", "dev"); err == nil {
		t.Fatal("expected unknown approval type error")
	}
	if _, err := runCLI(t, "enqueue", "payment", "42", "--instance", "dev", "--details", "{bad"); err == nil {
		t.Fatal("expected invalid details error")
	}
}

func TestPendingAndSweepFreshInstance(t *testing.T) {
	setupCLI(t)

	out, err := runCLI(t, "pending", "--json", "--instance", "testing")
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Fatalf("expected empty list, got %q", out)
	}

	// Without host user tables the delay window cannot be resolved.
	out, err = runCLI(t, "sweep", "--json", "--instance", "testing")
	if err == nil {
		t.Fatal("expected sweep to fail without host tables")
	}
	var reports []sweep.Report
	if jsonErr := json.Unmarshal([]byte(out), &reports); jsonErr != nil {
		t.Fatalf("decode: %v\n%s", jsonErr, out)
	}
	if len(reports) != 1 || reports[0].Error == "" {
		t.Fatalf("expected failed report, got %+v", reports)
	}
}

func TestCommandSurface(t *testing.T) {
	data, err := CommandSurfaceJSON()
	if err != nil {
		t.Fatal(err)
	}
	var manifest SurfaceManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, c := range manifest.Commands {
		names[c.Name] = true
	}
	for _, want := range []string{"enqueue", "instances", "migrate", "pending", "serve", "sweep", "use"} {
		if !names[want] {
			t.Errorf("command %q missing from surface", want)
		}
	}
	if names["commands"] {
		t.Error("hidden command listed")
	}
}

func TestWriteOutputJSONL(t *testing.T) {
	jsonlOutput = true
	defer func() { jsonlOutput = false }()

	var buf bytes.Buffer
	if err := WriteOutput(&buf, []enqueue.Outcome{
		{RecipientID: "1", Status: enqueue.StatusQueued},
		{RecipientID: "2", Status: enqueue.StatusAlreadyQueued},
	}); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
}

func TestGenerateHints(t *testing.T) {
	if hints := generateHints(HintContext{Action: "enqueue", Instance: "prod", Queued: 2}); len(hints) != 2 {
		t.Errorf("enqueue hints = %v", hints)
	}
	if hints := generateHints(HintContext{Action: "sweep"}); hints != nil {
		t.Errorf("clean sweep should have no hints, got %v", hints)
	}
	if hints := generateHints(HintContext{Action: "unknown"}); hints != nil {
		t.Errorf("unexpected hints %v", hints)
	}
}
