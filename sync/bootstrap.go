package sync

import (
	"context"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/teranos/locussync/errors"
	"github.com/teranos/locussync/hashtree"
	"github.com/teranos/locussync/logger"
)

// InitializeFromGetLociResponse bootstraps from a locus without embedded
// elements. Metadata for every dataset is fetched from the discovery URL,
// then each visible dataset without a tree is fully synchronized. Hash
// comparison is skipped since there is no local state yet. Without a self
// element the current visible set is kept and nothing is torn down. It does
// nothing when the locus carries no discovery URL.
func (p *Parser) InitializeFromGetLociResponse(ctx context.Context, locus *Locus) error {
	url := locus.VisibleDataSetsURL()
	if url == "" {
		p.logger.Debugw("Locus has no visible data sets URL, nothing to initialize")
		return nil
	}
	if locus.Self == nil || len(locus.Self.Raw) == 0 {
		return p.initialize(ctx, url, locusURL(locus), nil, p.knownVisible(), false)
	}
	return p.initialize(ctx, url, locusURL(locus), nil, locus.VisibleDataSets(), true)
}

// InitializeFromMessage runs the same bootstrap from a message. Its
// descriptors are registered before discovery. The visible set comes from a
// self element when the message carries one, otherwise the current visible
// and pending names are synchronized.
func (p *Parser) InitializeFromMessage(ctx context.Context, msg *Message) error {
	if msg == nil || msg.VisibleDataSetsURL == "" {
		p.logger.Debugw("Message has no visible data sets URL, nothing to initialize")
		return nil
	}

	var wanted []string
	teardown := false
	for _, e := range msg.LocusStateElements {
		if e.HTMeta.isSelf() && e.HasPayload() {
			names, err := parseVisibleDataSets(e.Data)
			if err != nil {
				return errors.Wrapf(errors.ErrInvalidMessage, "self payload: %v", err)
			}
			wanted, teardown = names, true
		}
	}
	if !teardown {
		wanted = p.knownVisible()
	}
	return p.initialize(ctx, msg.VisibleDataSetsURL, msg.LocusURL, msg.DataSets, wanted, teardown)
}

// knownVisible returns the live and pending dataset names.
func (p *Parser) knownVisible() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	wanted := p.visibleLocked()
	for name := range p.pending {
		wanted = append(wanted, name)
	}
	return wanted
}

// initialize registers every discovered dataset, full-syncs the wanted ones
// lacking a tree concurrently and applies all responses at once. When
// teardown is set, visible datasets not in wanted are torn down too.
func (p *Parser) initialize(ctx context.Context, url, locus string, seed []DataSet, wanted []string, teardown bool) error {
	discovery, err := p.fetchDiscovery(ctx, url)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.inactiveLocked() {
		p.mu.Unlock()
		return errors.ErrStopped
	}
	p.updateURLsLocked(url, locus)
	for _, recv := range seed {
		p.updateDataSetInfoLocked(recv)
	}
	for _, recv := range discovery.DataSets {
		p.updateDataSetInfoLocked(recv)
	}

	var targets []DataSet
	seen := make(map[string]struct{}, len(wanted))
	for _, name := range wanted {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if _, live := p.visible[name]; live {
			continue
		}
		ds, ok := p.dataSets[name]
		if !ok {
			p.logger.Warnw("Visible data set missing from discovery", logger.FieldDataSet, name)
			if _, waiting := p.pending[name]; !waiting {
				p.pending[name] = 0
			}
			continue
		}
		targets = append(targets, ds.DataSet)
	}
	p.mu.Unlock()

	responses := make([]*Message, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, info := range targets {
		g.Go(func() error {
			msg, err := p.postSync(gctx, info.URL, emptyLeavesRequest(info, p.emptyRoot(info.LeafCount)))
			if err != nil {
				return errors.Wrapf(err, "initial sync of %q", info.Name)
			}
			responses[i] = msg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	p.mu.Lock()
	if p.inactiveLocked() {
		p.mu.Unlock()
		return errors.ErrStopped
	}

	var updated []ElementUpdate
	if teardown {
		for _, name := range p.visibleLocked() {
			if _, ok := seen[name]; !ok {
				updated = append(updated, p.teardownLocked(name)...)
			}
		}
		for name := range p.pending {
			if _, ok := seen[name]; !ok {
				delete(p.pending, name)
			}
		}
	}

	var elems []ElementUpdate
	for i, info := range targets {
		p.makeVisibleLocked(info.Name)
		if msg := responses[i]; msg != nil {
			for _, recv := range msg.DataSets {
				p.updateDataSetInfoLocked(recv)
			}
			elems = append(elems, msg.LocusStateElements...)
		}
	}
	updated = append(updated, p.applyElementsLocked(elems)...)
	for _, info := range targets {
		p.armLocked(p.dataSets[info.Name])
	}

	p.logger.Infow("Data sets initialized",
		logger.FieldDataSets, p.visibleLocked(),
		logger.FieldCount, len(elems),
	)
	p.mu.Unlock()

	p.deliver(ObjectsUpdated, updated)
	return nil
}

// bootstrap brings a newly visible dataset live once its metadata arrives.
// A token that no longer matches the pending entry means the dataset was
// removed, or brought live another way, while this ran.
func (p *Parser) bootstrap(task bootstrapTask) {
	log := p.logger.With(logger.FieldDataSet, task.name)

	discovery, err := p.fetchDiscovery(p.ctx, task.url)
	if err != nil {
		log.Warnw("Discovery for newly visible data set failed, waiting for metadata", logger.FieldError, err)
		p.mu.Lock()
		if p.bootstrapCurrentLocked(task) {
			p.pending[task.name] = 0
		}
		p.mu.Unlock()
		return
	}

	p.mu.Lock()
	if !p.bootstrapCurrentLocked(task) {
		p.mu.Unlock()
		log.Debugw("Bootstrap superseded")
		return
	}
	for _, recv := range discovery.DataSets {
		p.updateDataSetInfoLocked(recv)
	}
	ds, ok := p.dataSets[task.name]
	if !ok {
		p.pending[task.name] = 0
		p.mu.Unlock()
		log.Warnw("Discovery did not describe newly visible data set")
		return
	}
	info := ds.DataSet
	p.mu.Unlock()

	msg, err := p.postSync(p.ctx, info.URL, emptyLeavesRequest(info, p.emptyRoot(info.LeafCount)))
	if err != nil {
		// live with an empty tree; the next round fills it
		log.Warnw("Initial sync of newly visible data set failed", logger.FieldError, err)
	}

	p.mu.Lock()
	if !p.bootstrapCurrentLocked(task) {
		p.mu.Unlock()
		log.Debugw("Bootstrap superseded")
		return
	}
	p.armLocked(p.makeVisibleLocked(task.name))
	p.mu.Unlock()
	log.Infow("Newly visible data set is live")

	if msg != nil {
		p.process(msg, "bootstrap of "+task.name)
	}
}

func (p *Parser) bootstrapCurrentLocked(task bootstrapTask) bool {
	token, ok := p.pending[task.name]
	return ok && token == task.token && !p.inactiveLocked()
}

func (p *Parser) fetchDiscovery(ctx context.Context, url string) (*DiscoveryResponse, error) {
	var resp DiscoveryResponse
	if _, err := p.call(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// emptyRoot is the root hash of a tree of n leaves holding nothing.
func (p *Parser) emptyRoot(n int) string {
	return hashtree.New(n, hashtree.WithHasher(p.hasher)).RootHash()
}
