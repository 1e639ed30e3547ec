package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/teranos/locussync/errors"
	"github.com/teranos/locussync/hashtree"
	"github.com/teranos/locussync/logger"
)

// Round outcomes, also used as metric labels.
const (
	roundInSync  = "in_sync"
	roundSynced  = "synced"
	roundFailed  = "failed"
	roundSkipped = "skipped"
)

// SyncDataSet runs one reconciliation round for name now. It returns
// ErrUnknownDataSet for names never described by the server and does
// nothing for datasets that are not visible or already mid-round.
func (p *Parser) SyncDataSet(ctx context.Context, name string) error {
	return p.runRound(ctx, name)
}

// runRound reconciles one dataset:
//
//	1. nothing to do when the local root matches the server's cached root
//	2. GET /hashtree and diff leaf hashes, unless leafCount == 1
//	3. POST /sync with the local element ids of every mismatched leaf
//	4. apply the response as a full update
//
// The idle timer is re-armed afterwards whatever the outcome.
func (p *Parser) runRound(ctx context.Context, name string) (err error) {
	p.mu.Lock()
	if p.inactiveLocked() {
		p.mu.Unlock()
		return errors.ErrStopped
	}
	ds, ok := p.dataSets[name]
	if !ok {
		p.mu.Unlock()
		return errors.Wrapf(errors.ErrUnknownDataSet, "data set %q", name)
	}
	if ds.tree == nil || ds.busy {
		outcome := "not visible"
		if ds.busy {
			outcome = "round in flight"
		}
		p.logger.Debugw("Skipping reconciliation round", logger.FieldDataSet, name, logger.FieldStatus, outcome)
		p.mu.Unlock()
		roundsTotal.WithLabelValues(roundSkipped).Inc()
		return nil
	}
	ds.busy = true
	tree := ds.tree
	info := ds.DataSet
	p.mu.Unlock()

	start := p.clock.Now()
	outcome := roundInSync
	defer func() {
		if err != nil {
			outcome = roundFailed
		}
		roundsTotal.WithLabelValues(outcome).Inc()
		roundDuration.Observe(p.clock.Since(start).Seconds())

		p.mu.Lock()
		if cur, ok := p.dataSets[name]; ok {
			cur.busy = false
			p.armLocked(cur)
		}
		p.mu.Unlock()
	}()

	localRoot := tree.RootHash()
	if info.Root != "" && info.Root == localRoot {
		p.logger.Debugw("Data set in sync, no round needed",
			logger.FieldDataSet, name,
			logger.FieldLocalRoot, localRoot,
		)
		return nil
	}

	leaves := []int{0}
	if tree.NumLeaves() > 1 {
		hashes, err := p.fetchHashes(ctx, info)
		if err != nil {
			return err
		}

		leaves, err = tree.DiffHashes(hashes.Hashes)
		if err != nil {
			return errors.WithHint(
				errors.Wrapf(errors.ErrHashCount, "data set %q: %v", name, err),
				"the server changed leafCount; the next descriptor will rebuild the tree",
			)
		}
		mismatchedLeaves.Observe(float64(len(leaves)))
		if len(leaves) == 0 {
			p.logger.Debugw("Leaf hashes match, cached root was stale", logger.FieldDataSet, name)
			return nil
		}
	}

	req := SyncRequest{
		DataSet: SyncDataSet{
			Name:      name,
			LeafCount: tree.NumLeaves(),
			Root:      localRoot,
		},
		LeafDataEntries: make([]LeafDataEntry, 0, len(leaves)),
	}
	for _, idx := range leaves {
		req.LeafDataEntries = append(req.LeafDataEntries, LeafDataEntry{
			LeafIndex:  idx,
			ElementIDs: tree.LeafData(idx),
		})
	}

	p.logger.Infow("Sending sync request",
		logger.FieldDataSet, name,
		logger.FieldLeafIndexes, leaves,
		logger.FieldLocalRoot, localRoot,
		logger.FieldRemoteRoot, info.Root,
	)

	msg, err := p.postSync(ctx, info.URL, req)
	if err != nil {
		return err
	}
	outcome = roundSynced
	if msg == nil {
		return nil
	}
	p.process(msg, "sync response for "+name)
	return nil
}

// fetchHashes reads the server's leaf hashes and merges the descriptor
// that comes with them.
func (p *Parser) fetchHashes(ctx context.Context, info DataSet) (*HashesResponse, error) {
	var resp HashesResponse
	found, err := p.call(ctx, http.MethodGet, hashTreeURL(info.URL), nil, &resp)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.Wrapf(errors.ErrHashCount, "empty hash tree response for %q", info.Name)
	}

	if resp.DataSet.Name == info.Name {
		p.mu.Lock()
		p.updateDataSetInfoLocked(resp.DataSet)
		p.mu.Unlock()
	}
	return &resp, nil
}

// postSync sends a sync request. A response without a body yields nil.
func (p *Parser) postSync(ctx context.Context, dataSetURL string, req SyncRequest) (*Message, error) {
	var msg Message
	found, err := p.call(ctx, http.MethodPost, syncURL(dataSetURL), req, &msg)
	if err != nil || !found {
		return nil, err
	}
	return &msg, nil
}

// emptyLeavesRequest asks for the full content of a dataset: every leaf is
// listed with no element ids.
func emptyLeavesRequest(info DataSet, root string) SyncRequest {
	n := info.LeafCount
	if n < 1 {
		n = 1
	}
	req := SyncRequest{
		DataSet:         SyncDataSet{Name: info.Name, LeafCount: n, Root: root},
		LeafDataEntries: make([]LeafDataEntry, n),
	}
	for i := range req.LeafDataEntries {
		req.LeafDataEntries[i] = LeafDataEntry{LeafIndex: i, ElementIDs: []hashtree.ElementID{}}
	}
	return req
}

// call performs one transport request and decodes the JSON body into out.
// found is false when the response had no body.
func (p *Parser) call(ctx context.Context, method, uri string, body, out any) (found bool, err error) {
	start := time.Now()
	resp, err := p.transport.Request(ctx, Request{Method: method, URI: uri, Body: body})
	if err != nil {
		return false, errors.WrapTransport(err, method+" "+uri)
	}

	p.logger.Debugw("Locus request complete",
		logger.FieldMethod, method,
		logger.FieldURL, uri,
		logger.FieldDurationMS, time.Since(start).Milliseconds(),
	)

	if resp == nil || len(resp.Body) == 0 || string(resp.Body) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return false, errors.Wrapf(err, "decode response of %s %s", method, uri)
	}
	return true, nil
}
