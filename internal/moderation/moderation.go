// Package moderation is the admin review queue over staged changes.
// Approving records the decision only: the payload is surfaced to the
// reviewer, who applies it through the normal direct-write path. The queue
// never replays payloads into content tables itself.
package moderation

import (
	"context"
	"errors"

	"memoria/api/internal/gate"
	"memoria/api/internal/store"
)

// ErrDenied reports that the acting user is not an administrator. Reviewing
// is a site-administration action, not a content capability, so it is not
// routed through the permission gate.
var ErrDenied = errors.New("moderation: admin role required")

// ChangeStore is the slice of the store the queue needs.
type ChangeStore interface {
	ListPendingChanges(ctx context.Context) ([]store.PendingChange, error)
	SetChangeStatus(ctx context.Context, changeID, status string) (string, error)
}

type Queue struct {
	changes ChangeStore
}

func NewQueue(changes ChangeStore) *Queue {
	return &Queue{changes: changes}
}

func (q *Queue) List(ctx context.Context, actor gate.User) ([]store.PendingChange, error) {
	if actor.Role != gate.RoleAdmin {
		return nil, ErrDenied
	}
	return q.changes.ListPendingChanges(ctx)
}

func (q *Queue) Approve(ctx context.Context, actor gate.User, changeID string) error {
	return q.resolve(ctx, actor, changeID, store.ChangeApproved)
}

func (q *Queue) Reject(ctx context.Context, actor gate.User, changeID string) error {
	return q.resolve(ctx, actor, changeID, store.ChangeRejected)
}

// resolve moves a change to a terminal status. The store guards the update
// on the record still being pending, so concurrent reviews race safely: the
// first decision sticks and later ones see a terminal record. Either way
// the record ends terminal, so a repeated or losing call is a success, not
// a conflict.
func (q *Queue) resolve(ctx context.Context, actor gate.User, changeID, status string) error {
	if actor.Role != gate.RoleAdmin {
		return ErrDenied
	}
	_, err := q.changes.SetChangeStatus(ctx, changeID, status)
	return err
}
