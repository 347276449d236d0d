package extraction

import "testing"

func TestRepairJSONStripsMarkdownFences(t *testing.T) {
	raw := "```json\n{\"name\":\"Alex\"}\n```"
	got, ok := repairJSON(raw)
	if !ok {
		t.Fatalf("repairJSON(%q) ok = false, want true", raw)
	}
	if got != `{"name":"Alex"}` {
		t.Errorf("repairJSON(%q) = %q", raw, got)
	}
}

func TestRepairJSONFixesTrailingComma(t *testing.T) {
	raw := `[{"name":"Alex",},]`
	got, ok := repairJSON(raw)
	if !ok {
		t.Fatalf("repairJSON(%q) ok = false, want true", raw)
	}
	if got != `[{"name":"Alex"}]` {
		t.Errorf("repairJSON(%q) = %q", raw, got)
	}
}

func TestRepairJSONIgnoresSurroundingProse(t *testing.T) {
	raw := "Sure, here is the JSON: {\"name\":\"Alex\"} Let me know if that helps!"
	got, ok := repairJSON(raw)
	if !ok {
		t.Fatalf("repairJSON(%q) ok = false, want true", raw)
	}
	if got != `{"name":"Alex"}` {
		t.Errorf("repairJSON(%q) = %q", raw, got)
	}
}

func TestRepairJSONHonorsBracesInsideStrings(t *testing.T) {
	raw := `{"quote":"she said \"hi {there}\""}`
	got, ok := repairJSON(raw)
	if !ok {
		t.Fatalf("repairJSON(%q) ok = false, want true", raw)
	}
	if got != raw {
		t.Errorf("repairJSON(%q) = %q, want unchanged", raw, got)
	}
}

func TestRepairJSONGivesUpOnNoBrackets(t *testing.T) {
	if _, ok := repairJSON("not json at all"); ok {
		t.Error("repairJSON on non-JSON text ok = true, want false")
	}
}

func TestRepairJSONGivesUpOnUnclosedBracket(t *testing.T) {
	if _, ok := repairJSON(`{"name": "Alex"`); ok {
		t.Error("repairJSON on unclosed object ok = true, want false")
	}
}
