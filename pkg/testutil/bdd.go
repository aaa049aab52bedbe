package testutil

import "testing"

// Given, When, Then and And run fn as a named subtest so failures read as a
// scenario in go test -v output.
func Given(t *testing.T, desc string, fn func(t *testing.T)) bool {
	t.Helper()
	return step(t, "Given", desc, fn)
}

func When(t *testing.T, desc string, fn func(t *testing.T)) bool {
	t.Helper()
	return step(t, "When", desc, fn)
}

func Then(t *testing.T, desc string, fn func(t *testing.T)) bool {
	t.Helper()
	return step(t, "Then", desc, fn)
}

func And(t *testing.T, desc string, fn func(t *testing.T)) bool {
	t.Helper()
	return step(t, "And", desc, fn)
}

// step stops the scenario at the first failing step; later steps depend on
// the state earlier ones built.
func step(t *testing.T, keyword, desc string, fn func(t *testing.T)) bool {
	t.Helper()
	if t.Failed() {
		t.Logf("skipping %s %s: an earlier step failed", keyword, desc)
		return false
	}
	return t.Run(keyword+" "+desc, fn)
}
