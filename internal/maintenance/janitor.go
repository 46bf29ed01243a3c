package maintenance

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/dshills/ragless-mcp/internal/store"
	"github.com/dshills/ragless-mcp/pkg/types"
)

// DefaultInterval is how often the janitor sweeps the store.
const DefaultInterval = 15 * time.Minute

// sweepLimit caps how many clusters one sweep inspects.
const sweepLimit = 10000

// Janitor runs periodic store upkeep: hotness decay and evidence
// verification against the filesystem. Clusters whose backing files
// have gone missing are contested; clusters with no surviving backing
// files are deprecated.
type Janitor struct {
	store    store.Store
	interval time.Duration
	decay    float64
	statFn   func(string) (os.FileInfo, error)
	now      func() time.Time

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// New builds a janitor. A non-positive interval falls back to
// DefaultInterval; a decay rate outside (0, 1) disables decay.
func New(st store.Store, interval time.Duration, decayRate float64) *Janitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Janitor{
		store:    st,
		interval: interval,
		decay:    decayRate,
		statFn:   os.Stat,
		now:      time.Now,
	}
}

// Start launches the background sweep loop. Calling Start twice is a no-op.
func (j *Janitor) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.started {
		return
	}
	j.started = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})

	go j.loop(ctx, j.stopCh, j.doneCh)
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	if !j.started {
		j.mu.Unlock()
		return
	}
	j.started = false
	close(j.stopCh)
	done := j.doneCh
	j.mu.Unlock()

	<-done
}

func (j *Janitor) loop(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if err := j.RunOnce(ctx); err != nil {
				log.Printf("maintenance sweep failed: %v", err)
			}
		}
	}
}

// RunOnce performs a single sweep: decay first, then evidence
// verification. The dirtiest failure wins; verification still runs
// when decay fails.
func (j *Janitor) RunOnce(ctx context.Context) error {
	var firstErr error

	if j.decay > 0 && j.decay < 1 {
		if err := j.store.DecayHotness(ctx, j.decay); err != nil {
			firstErr = fmt.Errorf("hotness decay: %w", err)
		}
	}

	if err := j.verifyEvidence(ctx); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("evidence verification: %w", err)
	}
	return firstErr
}

// verifyEvidence re-stats every cluster's backing files and adjusts
// lifecycle when the filesystem no longer agrees with the stored scan.
func (j *Janitor) verifyEvidence(ctx context.Context) error {
	clusters, err := j.store.List(ctx, sweepLimit, store.SortByLastModified)
	if err != nil {
		return err
	}

	for _, c := range clusters {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", types.ErrCancelled, err)
		}
		if c.Lifecycle == types.LifecycleDeprecated {
			continue
		}
		if err := j.verifyCluster(ctx, c); err != nil {
			log.Printf("maintenance: cluster %s: %v", c.ID, err)
		}
	}
	return nil
}

func (j *Janitor) verifyCluster(ctx context.Context, c *types.KnowledgeCluster) error {
	if len(c.Scan.SourceFiles) == 0 {
		return nil
	}

	var present, missing []string
	var totalBytes int64
	for _, path := range c.Scan.SourceFiles {
		info, err := j.statFn(path)
		if err != nil {
			missing = append(missing, path)
			continue
		}
		present = append(present, path)
		totalBytes += info.Size()
	}

	scan := types.ScanMeta{
		SourceFiles:   c.Scan.SourceFiles,
		MissingFiles:  missing,
		TotalBytes:    totalBytes,
		LastScannedAt: j.now(),
	}
	if err := j.store.UpdateScanMeta(ctx, c.ID, scan); err != nil {
		return err
	}

	next := nextLifecycle(c.Lifecycle, len(present), len(missing), len(c.Scan.MissingFiles))
	if next == c.Lifecycle {
		return nil
	}
	if err := j.store.Transition(ctx, c.ID, next); err != nil {
		return err
	}
	log.Printf("maintenance: cluster %s moved %s -> %s (%d of %d backing files missing)",
		c.ID, c.Lifecycle, next, len(missing), len(c.Scan.SourceFiles))
	return nil
}

// nextLifecycle decides where evidence verification should move a cluster.
// All files gone deprecates it, some files gone contests it, and a
// contested cluster whose files have all come back is stable again.
func nextLifecycle(current types.Lifecycle, present, missing, priorMissing int) types.Lifecycle {
	switch {
	case present == 0 && missing > 0:
		return types.LifecycleDeprecated
	case missing > 0:
		return types.LifecycleContested
	case current == types.LifecycleContested && priorMissing > 0:
		return types.LifecycleStable
	default:
		return current
	}
}
