package sync

import (
	"context"

	"github.com/teranos/locussync/errors"
	"github.com/teranos/locussync/hashtree"
	"github.com/teranos/locussync/logger"
)

// outcome is what one processed message produced.
type outcome struct {
	updateType UpdateType
	updated    []ElementUpdate
	tasks      []bootstrapTask
}

// Dispatch routes a classified inbound message.
func (p *Parser) Dispatch(ctx context.Context, in Inbound) error {
	switch m := in.(type) {
	case *Heartbeat:
		m.LocusStateElements = nil
		return p.HandleMessage(ctx, &m.Message)
	case *FullUpdate:
		if m.LocusStateElements == nil {
			m.LocusStateElements = []ElementUpdate{}
		}
		return p.HandleMessage(ctx, &m.Message)
	case *Snapshot:
		p.HandleLocusUpdate(m)
		return nil
	case nil:
		return errors.Wrap(errors.ErrInvalidMessage, "nil message")
	default:
		return errors.Wrapf(errors.ErrInvalidMessage, "unsupported inbound type %T", in)
	}
}

// HandleMessage applies a heartbeat (LocusStateElements == nil) or a full
// update and restarts the idle timer of every dataset it names. Changes are
// delivered in a single callback.
func (p *Parser) HandleMessage(ctx context.Context, msg *Message) error {
	if msg == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.process(msg, "message")
	return nil
}

// process applies msg, delivers the result and starts deferred bootstraps.
func (p *Parser) process(msg *Message, source string) {
	p.mu.Lock()
	if p.inactiveLocked() {
		p.mu.Unlock()
		p.logger.Debugw("Ignoring message, parser inactive", "source", source)
		return
	}

	var out outcome
	if msg.LocusStateElements == nil {
		messagesTotal.WithLabelValues("heartbeat").Inc()
		p.heartbeatLocked(msg)
		out.updateType = ObjectsUpdated
	} else {
		messagesTotal.WithLabelValues("full_update").Inc()
		out = p.fullUpdateLocked(msg)
	}
	p.mu.Unlock()

	p.deliver(out.updateType, out.updated)
	for _, task := range out.tasks {
		go p.bootstrap(task)
	}
}

// heartbeatLocked merges the announced descriptors and restarts their timers.
func (p *Parser) heartbeatLocked(msg *Message) {
	p.updateURLsLocked(msg.VisibleDataSetsURL, msg.LocusURL)
	for _, recv := range msg.DataSets {
		ds := p.updateDataSetInfoLocked(recv)
		if ds == nil || ds.tree == nil {
			continue
		}
		if local := ds.tree.RootHash(); local != recv.Root {
			p.logger.Debugw("Heartbeat root differs",
				logger.FieldDataSet, ds.Name,
				logger.FieldLocalRoot, local,
				logger.FieldRemoteRoot, recv.Root,
			)
		}
		p.armLocked(ds)
	}
	p.promotePendingLocked()
}

// fullUpdateLocked processes a message with element updates:
//
//	1. self entries first: roster drop or visible set change
//	2. every entry against the live trees of its datasets
//
// Self entries that changed visibility are reported in step 1 and again in
// step 2 when their version advanced. Consumers depend on that double
// emission, tracked as an upstream defect, so it is kept.
func (p *Parser) fullUpdateLocked(msg *Message) outcome {
	out := outcome{updateType: ObjectsUpdated}

	p.updateURLsLocked(msg.VisibleDataSetsURL, msg.LocusURL)
	for _, recv := range msg.DataSets {
		p.updateDataSetInfoLocked(recv)
	}
	p.promotePendingLocked()

	if len(msg.LocusStateElements) == 0 {
		p.logger.Debugw("Full update without elements")
	}

	for _, e := range msg.LocusStateElements {
		if !e.HTMeta.isSelf() {
			continue
		}
		if !e.HasPayload() {
			p.rosterDropLocked(e)
			return outcome{updateType: MeetingEnded}
		}

		wanted, err := parseVisibleDataSets(e.Data)
		if err != nil {
			p.logger.Warnw("Unreadable self payload, visible data sets unchanged", logger.FieldError, err)
			continue
		}
		changed, removals, tasks := p.reconcileVisibleLocked(wanted)
		if changed {
			out.updated = append(out.updated, e)
			out.updated = append(out.updated, removals...)
			out.tasks = append(out.tasks, tasks...)
		}
	}

	out.updated = append(out.updated, p.applyElementsLocked(msg.LocusStateElements)...)

	for _, recv := range msg.DataSets {
		p.armLocked(p.dataSets[recv.Name])
	}
	return out
}

// rosterDropLocked ends the session: no timer or round runs afterwards.
func (p *Parser) rosterDropLocked(self ElementUpdate) {
	p.logger.Infow("Self removed from roster, ending session",
		logger.FieldElementID, self.HTMeta.ElementID.ID,
		logger.FieldVersion, self.HTMeta.ElementID.Version,
	)
	p.ended = true
	p.stopAllTimersLocked()
	for name := range p.pending {
		delete(p.pending, name)
	}
}

// applyElementsLocked runs UpdateItems once per live dataset and returns, in
// input order, the entries that changed at least one tree. Entries naming
// unknown or invisible datasets, or without an element id, are skipped.
func (p *Parser) applyElementsLocked(elems []ElementUpdate) []ElementUpdate {
	type batch struct {
		entries []hashtree.Entry
		index   []int
	}
	batches := make(map[string]*batch)
	var order []string

	for i, e := range elems {
		if !e.HTMeta.valid() {
			continue
		}
		op := hashtree.OpUpdate
		if e.IsRemoval() {
			op = hashtree.OpRemove
		}
		for _, name := range e.HTMeta.DataSetNames {
			if p.treeLocked(name) == nil {
				p.logger.Debugw("Skipping element for data set without tree",
					logger.FieldDataSet, name,
					logger.FieldElementType, e.HTMeta.ElementID.Type,
					logger.FieldElementID, e.HTMeta.ElementID.ID,
				)
				continue
			}
			b, ok := batches[name]
			if !ok {
				b = &batch{}
				batches[name] = b
				order = append(order, name)
			}
			b.entries = append(b.entries, hashtree.Entry{Operation: op, Item: e.HTMeta.ElementID})
			b.index = append(b.index, i)
		}
	}

	changed := make([]bool, len(elems))
	for _, name := range order {
		b := batches[name]
		for j, applied := range p.treeLocked(name).UpdateItems(b.entries) {
			if applied {
				changed[b.index[j]] = true
			}
		}
		p.armLocked(p.dataSets[name])
	}

	var out []ElementUpdate
	for i, e := range elems {
		if changed[i] {
			out = append(out, e)
		}
	}
	return out
}

// HandleLocusUpdate refreshes the visible trees from a full locus snapshot.
// Elements are stored unconditionally and reported once when the stored
// version changed in any of their trees.
func (p *Parser) HandleLocusUpdate(update *Snapshot) {
	if update == nil {
		return
	}

	p.mu.Lock()
	if p.inactiveLocked() {
		p.mu.Unlock()
		return
	}
	messagesTotal.WithLabelValues("snapshot").Inc()

	if update.DataSets == nil {
		p.logger.Warnw("Locus update without data sets")
	}
	p.updateURLsLocked(update.Locus.VisibleDataSetsURL(), locusURL(update.Locus))
	for _, recv := range update.DataSets {
		p.updateDataSetInfoLocked(recv)
	}
	p.promotePendingLocked()

	var updated []ElementUpdate
	for _, e := range walkLocus(update.Locus) {
		changed := false
		for _, name := range e.HTMeta.DataSetNames {
			if tree := p.treeLocked(name); tree != nil && tree.PutItem(e.HTMeta.ElementID) {
				changed = true
			}
		}
		if changed {
			updated = append(updated, e)
		}
	}
	for _, recv := range update.DataSets {
		p.armLocked(p.dataSets[recv.Name])
	}
	p.mu.Unlock()

	p.deliver(ObjectsUpdated, updated)
}

// deliver invokes the callback. Empty object updates are not delivered.
func (p *Parser) deliver(updateType UpdateType, updated []ElementUpdate) {
	if updateType == ObjectsUpdated && len(updated) == 0 {
		return
	}
	if updateType == MeetingEnded {
		updated = nil
	}

	p.deliverMu.Lock()
	defer p.deliverMu.Unlock()

	deliveriesTotal.WithLabelValues(string(updateType)).Inc()
	p.callback(updateType, Update{UpdatedObjects: updated})
}
