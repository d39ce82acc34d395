package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrCheckTimeout is returned when the allocator's existence check does not
// complete within its deadline. Mapped to HTTP 504 at the boundary.
var ErrCheckTimeout = errors.New("store: id existence check timed out")

// AllocateID returns a random 128-bit identifier not currently present in
// the log store. The pre-insert check is a collision-avoidance diagnostic,
// not a correctness mechanism: under concurrent allocation the UNIQUE(id,
// user_name) constraint is the final guard against duplicates.
func (s *Store) AllocateID(ctx context.Context) (string, error) {
	for {
		id := uuid.NewString()

		checkCtx, cancel := context.WithTimeout(ctx, s.checkTimeout)
		exists, err := s.IDExists(checkCtx, id)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return "", ErrCheckTimeout
			}
			return "", fmt.Errorf("allocate id: %w", err)
		}
		if !exists {
			return id, nil
		}
		log.Warn().Str("id", id).Msg("allocator: uuid collision, regenerating")
	}
}
