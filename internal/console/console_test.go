package console

import "testing"

func TestParseCommandBreak(t *testing.T) {
	req, err := parseCommand(1, "break Program.cs 12")
	if err != nil {
		t.Fatal(err)
	}
	if req.Tool != "set_breakpoint" {
		t.Fatalf("tool = %q, want set_breakpoint", req.Tool)
	}
	if req.ID != 1 {
		t.Fatalf("id = %d, want 1", req.ID)
	}
}

func TestParseCommandBreakBadLine(t *testing.T) {
	if _, err := parseCommand(1, "break Program.cs notanumber"); err == nil {
		t.Fatal("expected error for non-numeric line")
	}
}

func TestParseCommandUnknown(t *testing.T) {
	if _, err := parseCommand(1, "frobnicate"); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestParseCommandContinueAliasesMatch(t *testing.T) {
	a, err := parseCommand(1, "continue")
	if err != nil {
		t.Fatal(err)
	}
	b, err := parseCommand(2, "c")
	if err != nil {
		t.Fatal(err)
	}
	if a.Tool != b.Tool {
		t.Fatalf("continue and c produced different tools: %q vs %q", a.Tool, b.Tool)
	}
}

func TestParseCommandEvalJoinsArgs(t *testing.T) {
	req, err := parseCommand(1, "eval x + y")
	if err != nil {
		t.Fatal(err)
	}
	if req.Tool != "evaluate" {
		t.Fatalf("tool = %q, want evaluate", req.Tool)
	}
}
