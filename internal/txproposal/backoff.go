package txproposal

import (
	"time"

	"github.com/Fantasim/bitwallet-coordinator/internal/config"
	"github.com/Fantasim/bitwallet-coordinator/internal/models"
)

// backoffBlocked reports whether createTx should be refused for this
// copayer: among their last 5+BACKOFF_OFFSET proposals, more than
// BACKOFF_OFFSET consecutive rejections were recorded, and not enough
// time has passed since the most recent one to lift the block. Grounded
// on the teacher's retry/backoff idiom in internal/scanner (exponential
// reconnect delay), adapted here into a trailing-window rejection count
// rather than a reconnect timer.
func backoffBlocked(recent []*models.TxProposal, creatorID string, now time.Time) bool {
	window := 5 + config.BackoffOffset
	mine := make([]*models.TxProposal, 0, len(recent))
	for _, p := range recent {
		if p.CreatorID == creatorID {
			mine = append(mine, p)
		}
	}
	if len(mine) > window {
		mine = mine[len(mine)-window:]
	}

	consecutive := 0
	var lastRejectionAt time.Time
	for i := len(mine) - 1; i >= 0; i-- {
		if mine[i].Status != models.StatusRejected {
			break
		}
		consecutive++
		when := time.Unix(mine[i].CreatedOn, 0)
		if when.After(lastRejectionAt) {
			lastRejectionAt = when
		}
	}

	if consecutive <= config.BackoffOffset {
		return false
	}
	if lastRejectionAt.IsZero() {
		return false
	}
	return now.Sub(lastRejectionAt) <= config.BackoffTime
}
