// Package agents provides specialized task producers for the hub.
// Agents do not talk to the model themselves; they build prompts and
// enqueue tasks into the appropriate lane, letting the hub's tool-use
// loop do the work.
package agents

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"time"

	"github.com/nipunasudha/monopoly-polymarket-agent/pkg/hub"
)

// Hub is the scheduling surface agents depend on. *hub.Hub satisfies
// it.
type Hub interface {
	Enqueue(task *hub.Task) string
	EnqueueAndWait(ctx context.Context, task *hub.Task, timeout time.Duration) (*hub.TaskResult, error)
}

// DefaultWaitTimeout bounds the synchronous agent helpers.
const DefaultWaitTimeout = 5 * time.Minute

// shortHash derives a stable task id suffix from free-form text, so
// re-enqueuing the same question reuses the same queue slot.
func shortHash(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:12]
}
