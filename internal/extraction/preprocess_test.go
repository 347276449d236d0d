package extraction

import (
	"context"
	"testing"
)

func TestPreprocessStripsCodeBlocksAndInjectionPrefix(t *testing.T) {
	d := &Draft{RawText: "Remember that   I code in ```go\nfunc main(){}\n``` every day"}
	got, err := Preprocess(context.Background(), d)
	if err != nil {
		t.Fatalf("Preprocess() error = %v", err)
	}
	want := "I code in every day"
	if got.CleanedText != want {
		t.Errorf("CleanedText = %q, want %q", got.CleanedText, want)
	}
}

func TestPreprocessFallbackOnEmptyUtterance(t *testing.T) {
	d := &Draft{RawText: "   "}
	got, err := Preprocess(context.Background(), d)
	if err == nil {
		t.Fatal("Preprocess() on blank text error = nil, want non-nil")
	}
	if !got.HasTag("preprocess_failed") {
		t.Error("Preprocess() on blank text did not tag preprocess_failed")
	}
}

func TestPreprocessNormalizesWhitespace(t *testing.T) {
	d := &Draft{RawText: "hello   \n\n   world"}
	got, err := Preprocess(context.Background(), d)
	if err != nil {
		t.Fatalf("Preprocess() error = %v", err)
	}
	if got.CleanedText != "hello world" {
		t.Errorf("CleanedText = %q, want %q", got.CleanedText, "hello world")
	}
}
