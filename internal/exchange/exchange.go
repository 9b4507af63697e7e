// Package exchange
package exchange

import (
	"context"

	"github.com/pairslab/pairscope/internal/tick"
)

// TickSource delivers raw trade events over a channel. Implementations own
// transport concerns (reconnects, gaps); consumers only see well-formed raw
// events and must tolerate missing stretches after a resumed stream.
type TickSource interface {
	Name() string
	// Stream pushes raw trades to out until ctx is cancelled or the source
	// fails permanently. It must not close out.
	Stream(ctx context.Context, out chan<- tick.Raw) error
}
