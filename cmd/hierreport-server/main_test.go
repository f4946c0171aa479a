package main

import "testing"

func TestBuildRootCmdRegistersFlags(t *testing.T) {
	cmd := buildRootCmd()
	for _, name := range []string{"config", "sqlite-registry"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("expected flag %q to be registered", name)
		}
	}
	if got := cmd.Flags().ShorthandLookup("c"); got == nil || got.Name != "config" {
		t.Error("expected -c shorthand for --config")
	}
}
