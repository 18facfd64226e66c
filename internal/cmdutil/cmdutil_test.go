package cmdutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type dur time.Duration

func TestEnvOverrides(t *testing.T) {
	env := Env{Prefix: "SCT_"}
	t.Setenv("SCT_NAME", "  hub  ")
	t.Setenv("SCT_FLAG", "true")
	t.Setenv("SCT_N", "7")
	t.Setenv("SCT_WAIT", "3s")
	t.Setenv("SCT_LIST", " a, ,b ")
	t.Setenv("SCT_BLANK", "   ")

	name, blank := "x", "keep"
	flag := false
	n := 0
	var wait dur
	var list []string
	env.String("NAME", &name)
	env.String("BLANK", &blank)
	env.CSV("LIST", &list)
	if err := env.Bool("FLAG", &flag); err != nil {
		t.Fatal(err)
	}
	if err := env.Int("N", &n); err != nil {
		t.Fatal(err)
	}
	if err := Duration(env, "WAIT", &wait); err != nil {
		t.Fatal(err)
	}
	if name != "hub" || blank != "keep" || !flag || n != 7 || time.Duration(wait) != 3*time.Second {
		t.Fatalf("unexpected values: %q %q %v %d %v", name, blank, flag, n, wait)
	}
	if len(list) != 2 || list[0] != "a" || list[1] != "b" {
		t.Fatalf("unexpected list: %#v", list)
	}
}

func TestEnvInvalidIsUsage(t *testing.T) {
	env := Env{Prefix: "SCT_"}
	t.Setenv("SCT_N", "many")
	n := 1
	err := env.Int("N", &n)
	if !IsUsage(err) || ExitCode(err) != 2 || n != 1 {
		t.Fatalf("expected usage error, got %v (n=%d)", err, n)
	}
	if ExitCode(errors.New("boom")) != 1 || ExitCode(nil) != 0 {
		t.Fatal("unexpected exit codes")
	}
}

func TestRefuseOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key")
	if err := RefuseOverwrite(path, false); err != nil {
		t.Fatalf("missing file: %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := RefuseOverwrite(path, false); !IsUsage(err) {
		t.Fatalf("expected usage error, got %v", err)
	}
	if err := RefuseOverwrite(path, true); err != nil {
		t.Fatalf("overwrite allowed: %v", err)
	}
}
