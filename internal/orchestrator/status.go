package orchestrator

import (
	"fmt"

	"github.com/prdflow/prdflow/internal/backlog"
	"github.com/prdflow/prdflow/internal/errors"
	"github.com/prdflow/prdflow/internal/event"
)

// SetStatus transitions the item with the given id, persists the registry,
// and publishes the change. Illegal transitions are rejected with
// INVALID_TRANSITION and leave the registry untouched.
func (o *Orchestrator) SetStatus(itemID string, to backlog.Status, reason string) error {
	it, err := o.sess.Registry.Find(itemID)
	if err != nil {
		return errors.NewTaskError(fmt.Sprintf("unknown item %s", itemID), err).
			WithItem(itemID)
	}
	return o.setStatus(it, to, reason)
}

// setStatus applies one transition under the registry lock. Setting the
// current status again is a no-op. The event is published only after the
// save has landed, and outside the lock.
func (o *Orchestrator) setStatus(it *backlog.Item, to backlog.Status, reason string) error {
	o.mu.Lock()
	from := it.Status
	if from == to {
		o.mu.Unlock()
		return nil
	}
	if !backlog.CanTransition(from, to) {
		o.mu.Unlock()
		return errors.NewTaskError(
			fmt.Sprintf("illegal status transition %s -> %s", from, to), nil).
			WithCode(errors.CodeInvalidTransition).
			WithItem(it.ID).
			WithContext("from", string(from)).
			WithContext("to", string(to))
	}
	it.Status = to
	if err := o.store.SaveTasks(o.sess); err != nil {
		// Keep memory consistent with disk.
		it.Status = from
		o.mu.Unlock()
		return err
	}
	o.mu.Unlock()

	o.log.Debug("status transition",
		"item_id", it.ID,
		"old_status", string(from),
		"new_status", string(to),
		"reason", reason,
	)
	o.publish(event.NewItemStatusEvent(it.ID, string(it.Level), string(from), string(to), reason))
	return nil
}

// markAncestorsImplementing moves every still-planned ancestor of the leaf
// to implementing, root first. Ancestors skip researching: work has started
// underneath them.
func (o *Orchestrator) markAncestorsImplementing(leaf *backlog.Item) error {
	chain, err := o.ancestorChain(leaf)
	if err != nil {
		return err
	}
	for i := len(chain) - 1; i >= 0; i-- {
		anc := chain[i]
		if o.statusOf(anc) != backlog.StatusPlanned {
			continue
		}
		if err := o.setStatus(anc, backlog.StatusImplementing, "child started"); err != nil {
			return err
		}
	}
	return nil
}

// completeAncestors walks from the leaf toward the root and completes each
// ancestor whose children are now all complete. A failed child keeps its
// ancestors open; they stay in implementing.
func (o *Orchestrator) completeAncestors(leaf *backlog.Item) error {
	cur := leaf
	for {
		parent, err := o.sess.Registry.Parent(cur.ID)
		if err != nil || parent == nil {
			return err
		}
		if !o.childrenComplete(parent) {
			return nil
		}
		if err := o.setStatus(parent, backlog.StatusComplete, "all children complete"); err != nil {
			return err
		}
		cur = parent
	}
}

// childrenComplete reports whether every child of the item is complete.
// Complete is terminal, so a true answer cannot be invalidated by a
// concurrent worker.
func (o *Orchestrator) childrenComplete(it *backlog.Item) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, c := range it.Children {
		if c.Status != backlog.StatusComplete {
			return false
		}
	}
	return true
}

// ancestorChain returns the item's ancestors, nearest first.
func (o *Orchestrator) ancestorChain(it *backlog.Item) ([]*backlog.Item, error) {
	var chain []*backlog.Item
	cur := it
	for {
		parent, err := o.sess.Registry.Parent(cur.ID)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return chain, nil
		}
		chain = append(chain, parent)
		cur = parent
	}
}
