package graph

import (
	"context"
	"fmt"
	"time"
)

// runNodeWithTimeout wraps node execution with timeout enforcement.
//
// If defaultTimeout is zero the node runs directly under the invocation
// context. Otherwise a deadline context is derived; a node that outlives it
// produces an EngineError with code NODE_TIMEOUT.
func runNodeWithTimeout[S, D any](
	ctx context.Context,
	node Node[S, D],
	nodeID string,
	state S,
	defaultTimeout time.Duration,
) (NodeResult[S, D], error) {
	if defaultTimeout == 0 {
		return node.Run(ctx, state), nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	result := node.Run(timeoutCtx, state)

	if timeoutCtx.Err() == context.DeadlineExceeded {
		return result, &EngineError{
			Message: fmt.Sprintf("node %s exceeded timeout of %v", nodeID, defaultTimeout),
			Code:    "NODE_TIMEOUT",
		}
	}

	return result, nil
}
