package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	color.NoColor = true

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetIn(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	return out.String(), errOut.String(), err
}

func TestFormatCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.yaml")
	data := "Rpms: 4500.6\nSpeedKmh: 101.4\nGear: 3\nFuelPercent: 55.5\nOilTemperature: 89.2\nEngineIgnitionOn: true\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}

	out, _, err := execute(t, "", "format", "--snapshot", path)
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	if want := "S,RPM=4501,SPD=101,GEAR=3,FUEL=555,OIL=89,IGN=1\n"; out != want {
		t.Fatalf("expected %q, got %q", want, out)
	}
}

func TestDecodeCommandArgument(t *testing.T) {
	out, _, err := execute(t, "", "decode", "S,RPM=4501,SPD=101,GEAR=3,FUEL=555,OIL=89,IGN=1")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, want := range []string{"rpm 4501", "speed 101 km/h", "gear 3", "fuel 55.5%", "oil 89°C", "ignition on"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output %q", want, out)
		}
	}
}

func TestDecodeCommandStdin(t *testing.T) {
	in := "S,RPM=0,SPD=0,GEAR=0,FUEL=0,OIL=0,IGN=0\ngarbage\n"
	out, errOut, err := execute(t, in, "decode")
	if err == nil {
		t.Fatalf("expected error for malformed line")
	}
	if !strings.Contains(out, "ignition off") {
		t.Fatalf("expected decoded idle line, got %q", out)
	}
	if !strings.Contains(errOut, "malformed dash line") {
		t.Fatalf("expected malformed report on stderr, got %q", errOut)
	}
}
