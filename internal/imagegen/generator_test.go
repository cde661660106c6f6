package imagegen

import (
	"context"
	"errors"
	"testing"
)

func TestCleanSVGStripsFences(t *testing.T) {
	cases := map[string]string{
		"```svg\n<svg></svg>\n```": "<svg></svg>",
		"```xml<svg/>```":          "<svg/>",
		"  <svg/>  ":               "<svg/>",
		"```":                      "",
	}
	for in, want := range cases {
		if got := CleanSVG(in); got != want {
			t.Fatalf("CleanSVG(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDisabledFails(t *testing.T) {
	var g Generator = Disabled{}
	if _, err := g.GenerateIcon(context.Background(), "pixel"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("GenerateIcon() error = %v, want ErrDisabled", err)
	}
}
