package audit

import (
	"context"
	"fmt"
)

// MultiSink fans events out to several sinks. Every sink is attempted; the
// first error is returned.
type MultiSink []Sink

// Append writes e to every sink
func (m MultiSink) Append(ctx context.Context, e Event) error {
	e = e.withDefaults()

	var first error
	for i, s := range m {
		if err := s.Append(ctx, e); err != nil && first == nil {
			first = fmt.Errorf("audit sink %d: %w", i, err)
		}
	}
	return first
}
