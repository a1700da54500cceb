package operator

import (
	"github.com/specialistvlad/etlgrid/internal/runctx"
)

// render expands a templated param against the run. Template failures are
// fatal: the same text fails the same way on every attempt.
func render(inv Invocation, param, text string) (string, error) {
	if inv.Run == nil {
		return text, nil
	}
	out, err := inv.Run.Render(text)
	if err != nil {
		return "", Fatalf("param %q: %w", param, err)
	}
	return out, nil
}

func checkTemplate(param, text string) error {
	if err := runctx.CheckTemplate(text); err != nil {
		return Fatalf("param %q: %w", param, err)
	}
	return nil
}
