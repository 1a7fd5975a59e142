package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/signalsfoundry/mote-simulator/internal/config"
	"github.com/signalsfoundry/mote-simulator/internal/driver"
	"github.com/signalsfoundry/mote-simulator/internal/logging"
	"github.com/signalsfoundry/mote-simulator/internal/report"
)

func writeInputs(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	topology := filepath.Join(dir, "topology.txt")
	noise := filepath.Join(dir, "noise.txt")
	var edges strings.Builder
	for i := 2; i <= 6; i++ {
		edges.WriteString("1 " + string(rune('0'+i)) + " -55\n")
		edges.WriteString(string(rune('0'+i)) + " 1 -55\n")
	}
	if err := os.WriteFile(topology, []byte(edges.String()), 0o644); err != nil {
		t.Fatalf("write topology: %v", err)
	}
	if err := os.WriteFile(noise, []byte("-98\n-97\n-99\n-98\n-96\n-98\n"), 0o644); err != nil {
		t.Fatalf("write noise: %v", err)
	}
	return topology, noise
}

func TestRootCommandRunsScenario(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	topology, noise := writeInputs(t)
	reportPath := filepath.Join(t.TempDir(), "summary.yaml")

	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs([]string{
		"--topology", topology,
		"--noise", noise,
		"--horizon", "20",
		"--seed", "3",
		"--report", reportPath,
	})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	text := out.String()
	for _, want := range []string{
		"Creating node 6 ...",
		">>>Setting radio channel from node 1 to node 2 with gain -55 dBm",
		"Simulation finished!",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q", want)
		}
	}

	f, err := os.Open(reportPath)
	if err != nil {
		t.Fatalf("open report: %v", err)
	}
	defer f.Close()
	sum, err := report.Read(f)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if sum.RunID == "" || sum.Driver.Edges != 10 || len(sum.Nodes) != 6 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if sum.Scenario.Seed != 3 || sum.Scenario.HorizonSeconds != 20 {
		t.Fatalf("flags not applied: %+v", sum.Scenario)
	}
}

func TestRootCommandFailsOnMissingTopology(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	_, noise := writeInputs(t)

	cmd := newRootCmd(&bytes.Buffer{})
	cmd.SetArgs([]string{"--topology", filepath.Join(t.TempDir(), "absent.txt"), "--noise", noise})
	if err := cmd.Execute(); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestRunRejectsMalformedTopology(t *testing.T) {
	_, noise := writeInputs(t)
	bad := filepath.Join(t.TempDir(), "topology.txt")
	if err := os.WriteFile(bad, []byte("1 2\n"), 0o644); err != nil {
		t.Fatalf("write topology: %v", err)
	}

	s, err := config.Load(config.New(), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s.Topology, s.Noise = bad, noise
	ctx := logging.ContextWithLogger(context.Background(), logging.Noop())
	if err := run(ctx, s, &bytes.Buffer{}); !errors.Is(err, driver.ErrMalformedTopology) {
		t.Fatalf("expected ErrMalformedTopology, got %v", err)
	}
}
