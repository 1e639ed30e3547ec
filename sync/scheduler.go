package sync

import (
	"math"
	"time"

	"github.com/teranos/locussync/logger"
)

// delayFor returns idleMs plus a random backoff of rand^exponent * maxMs.
// With exponent > 1 most delays stay close to idleMs.
func (p *Parser) delayFor(ds DataSet) time.Duration {
	var jitter int64
	if ds.Backoff.MaxMs > 0 {
		jitter = int64(math.Round(math.Pow(p.rand(), ds.Backoff.Exponent) * float64(ds.Backoff.MaxMs)))
	}
	return time.Duration(ds.IdleMs+jitter) * time.Millisecond
}

// armLocked (re)starts the idle timer of a live dataset. Any pending timer is
// stopped first, so at most one is ever armed per dataset.
func (p *Parser) armLocked(ds *dataSet) {
	if ds == nil || ds.tree == nil || p.inactiveLocked() {
		return
	}
	p.stopTimerLocked(ds)

	delay := p.delayFor(ds.DataSet)
	if delay <= 0 {
		p.logger.Debugw("Skipping idle timer with non-positive delay",
			logger.FieldDataSet, ds.Name,
			logger.FieldDelayMS, delay.Milliseconds(),
		)
		return
	}

	seq := ds.timerSeq
	name := ds.Name
	ds.timer = p.clock.AfterFunc(delay, func() { p.onTimer(name, seq) })
}

// stopTimerLocked cancels ds's timer. Bumping timerSeq makes a callback that
// already started ignore itself.
func (p *Parser) stopTimerLocked(ds *dataSet) {
	ds.timerSeq++
	if ds.timer != nil {
		ds.timer.Stop()
		ds.timer = nil
	}
}

func (p *Parser) stopAllTimersLocked() {
	for _, ds := range p.dataSets {
		p.stopTimerLocked(ds)
	}
}

func (p *Parser) onTimer(name string, seq uint64) {
	p.mu.Lock()
	ds, ok := p.dataSets[name]
	if !ok || ds.timerSeq != seq || p.inactiveLocked() {
		p.mu.Unlock()
		return
	}
	ds.timer = nil
	p.mu.Unlock()

	if err := p.runRound(p.ctx, name); err != nil {
		p.logger.Warnw("Reconciliation round failed",
			logger.FieldDataSet, name,
			logger.FieldError, err,
		)
	}
}
