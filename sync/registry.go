package sync

import (
	"github.com/teranos/locussync/hashtree"
	"github.com/teranos/locussync/logger"
)

// bootstrapTask is a newly visible dataset whose metadata has to be fetched
// before it can go live.
type bootstrapTask struct {
	name  string
	token uint64
	url   string
}

func (p *Parser) updateURLsLocked(visibleDataSetsURL, locusURL string) {
	if visibleDataSetsURL != "" {
		p.visibleDataSetsURL = visibleDataSetsURL
	}
	if locusURL != "" {
		p.locusURL = locusURL
	}
}

// updateDataSetInfoLocked merges a server descriptor into the registry.
// Unknown names are registered as is; known ones take the received values
// when the version advanced. A leafCount change on a live dataset replaces
// its tree with one of the new width.
func (p *Parser) updateDataSetInfoLocked(recv DataSet) *dataSet {
	if recv.Name == "" {
		return nil
	}

	ds, ok := p.dataSets[recv.Name]
	if !ok {
		ds = &dataSet{DataSet: recv}
		p.dataSets[recv.Name] = ds
		p.logger.Debugw("Registered data set",
			logger.FieldDataSet, recv.Name,
			logger.FieldVersion, recv.Version,
			logger.FieldLeafCount, recv.LeafCount,
		)
		return ds
	}

	if recv.Version <= ds.Version {
		return ds
	}

	ds.Version = recv.Version
	ds.Root = recv.Root
	ds.IdleMs = recv.IdleMs
	ds.Backoff = recv.Backoff
	if recv.URL != "" {
		ds.URL = recv.URL
	}

	if recv.LeafCount > 0 && recv.LeafCount != ds.LeafCount {
		p.logger.Infow("Data set leaf count changed",
			logger.FieldDataSet, ds.Name,
			"from", ds.LeafCount,
			"to", recv.LeafCount,
		)
		ds.LeafCount = recv.LeafCount
		if ds.tree != nil {
			ds.tree = ds.tree.Rebuild(recv.LeafCount)
		}
	}
	return ds
}

// makeVisibleLocked creates the tree of a registered dataset and marks it
// visible. The timer is left to the caller.
func (p *Parser) makeVisibleLocked(name string) *dataSet {
	ds := p.dataSets[name]
	if ds.tree == nil {
		ds.tree = hashtree.New(ds.LeafCount, hashtree.WithHasher(p.hasher))
	}
	p.visible[name] = struct{}{}
	delete(p.pending, name)
	return ds
}

// teardownLocked discards the tree and timer of a visible dataset and
// returns a removal notification for every element it held. The registry
// entry stays.
func (p *Parser) teardownLocked(name string) []ElementUpdate {
	ds, ok := p.dataSets[name]
	if !ok || ds.tree == nil {
		delete(p.visible, name)
		return nil
	}

	var removals []ElementUpdate
	for i := 0; i < ds.tree.NumLeaves(); i++ {
		for _, id := range ds.tree.LeafData(i) {
			removals = append(removals, removal(id, name))
		}
	}

	p.stopTimerLocked(ds)
	ds.tree = nil
	delete(p.visible, name)

	p.logger.Infow("Data set no longer visible",
		logger.FieldDataSet, name,
		logger.FieldCount, len(removals),
	)
	return removals
}

// reconcileVisibleLocked moves the visible set to wanted. Datasets leaving
// the set are torn down, registered newcomers go live immediately and
// unregistered newcomers are returned as bootstrap tasks. changed is false
// when wanted matches the visible and pending names.
func (p *Parser) reconcileVisibleLocked(wanted []string) (changed bool, removals []ElementUpdate, tasks []bootstrapTask) {
	want := make(map[string]struct{}, len(wanted))
	for _, name := range wanted {
		want[name] = struct{}{}
	}

	var removed, added []string
	for name := range p.visible {
		if _, ok := want[name]; !ok {
			removed = append(removed, name)
		}
	}
	for name := range p.pending {
		if _, ok := want[name]; !ok {
			removed = append(removed, name)
		}
	}
	for _, name := range wanted {
		_, live := p.visible[name]
		_, waiting := p.pending[name]
		if !live && !waiting {
			added = append(added, name)
		}
	}
	if len(removed) == 0 && len(added) == 0 {
		return false, nil, nil
	}

	p.logger.Infow("Visible data sets changed",
		"added", added,
		"removed", removed,
	)

	for _, name := range removed {
		if _, waiting := p.pending[name]; waiting {
			// cancels the effect of a bootstrap still in flight
			delete(p.pending, name)
			continue
		}
		removals = append(removals, p.teardownLocked(name)...)
	}

	for _, name := range added {
		if _, ok := p.dataSets[name]; ok {
			p.armLocked(p.makeVisibleLocked(name))
			continue
		}
		if p.visibleDataSetsURL == "" {
			p.pending[name] = 0
			continue
		}
		p.nextToken++
		p.pending[name] = p.nextToken
		tasks = append(tasks, bootstrapTask{name: name, token: p.nextToken, url: p.visibleDataSetsURL})
	}
	return true, removals, tasks
}

// promotePendingLocked makes visible every pending dataset that is waiting
// for metadata and has since been registered. Its empty tree is filled by
// the next reconciliation round.
func (p *Parser) promotePendingLocked() {
	for name, token := range p.pending {
		if token != 0 {
			continue
		}
		if _, ok := p.dataSets[name]; !ok {
			continue
		}
		p.armLocked(p.makeVisibleLocked(name))
	}
}
