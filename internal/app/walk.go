/**
 * @description
 * This file contains the shared upward traversal over the coordinator
 * hierarchy. Both the commission engine and the target propagation engine walk
 * the same ancestor chain, so the cycle-safety rules live in one place and are
 * parameterized by a per-node action.
 *
 * Traversal stops at: a missing parent pointer, the configured synthetic-root
 * sentinel account, a node that was already visited (a cycle in drifted data),
 * or the configured hard level cap. The walk is iterative with an explicit
 * visited set; recursion would tie stack depth to data quality.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/sahyogfoundation/donation-service/internal/domain"
	"github.com/sahyogfoundation/donation-service/internal/store"
)

// errStopWalk lets a visit callback end the traversal early without reporting
// a failure to the caller.
var errStopWalk = errors.New("stop ancestor walk")

// walkAncestors visits every ancestor of start, bottom-up, calling visit with
// the 1-based level above the start node. A lookup failure on the next parent
// aborts the walk with an error since the chain cannot continue; the visit
// callback decides its own error policy and may return errStopWalk to halt
// cleanly.
func (s *Service) walkAncestors(ctx context.Context, start *domain.User, visit func(level int, ancestor *domain.User) error) error {
	visited := map[uuid.UUID]struct{}{start.ID: {}}
	next := start.ParentID

	for level := 1; next != nil; level++ {
		if level > s.maxHierarchyDepth {
			log.Printf("level=warn component=hierarchy_walk msg=\"level cap reached; halting traversal\" start_id=%s cap=%d", start.ID, s.maxHierarchyDepth)
			return nil
		}
		if *next == s.syntheticRootID {
			return nil
		}
		if _, seen := visited[*next]; seen {
			log.Printf("level=warn component=hierarchy_walk msg=\"parent cycle detected; halting traversal\" start_id=%s node_id=%s", start.ID, *next)
			return nil
		}

		ancestor, err := s.repo.FindUserByID(ctx, *next)
		if err != nil {
			if errors.Is(err, store.ErrUserNotFound) {
				log.Printf("level=warn component=hierarchy_walk msg=\"dangling parent pointer; halting traversal\" start_id=%s node_id=%s", start.ID, *next)
				return nil
			}
			return fmt.Errorf("lookup ancestor %s: %w", *next, err)
		}

		visited[ancestor.ID] = struct{}{}
		if err := visit(level, ancestor); err != nil {
			if errors.Is(err, errStopWalk) {
				return nil
			}
			return err
		}
		next = ancestor.ParentID
	}
	return nil
}
