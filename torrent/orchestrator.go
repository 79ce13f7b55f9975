package torrent

import (
	"context"
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
)

// ErrIncomplete is returned by Orchestrator.Download when every peer
// session has finished but the piece store is not fully completed.
var ErrIncomplete = fmt.Errorf("torrent: download incomplete")

// Orchestrator spawns one Peer Session per tracker-supplied peer, awaits
// all of them, and reports overall success. It does not cancel sessions
// that are still productive when the store becomes done — each session
// notices completion on its own next outer-loop check.
type Orchestrator struct {
	info   *Info
	store  *PieceStore
	peerID string
	log    *Logger
}

// NewOrchestrator builds an Orchestrator for one download.
func NewOrchestrator(info *Info, store *PieceStore, peerID string, log *Logger) *Orchestrator {
	return &Orchestrator{info: info, store: store, peerID: peerID, log: log}
}

// Download starts one Session per peer concurrently, all sharing the
// Orchestrator's PieceStore, and blocks until every session has returned.
// If bar is non-nil its count is advanced to track completed pieces while
// the download runs. Download reports ErrIncomplete if the store is not
// fully completed once every session has finished.
func (o *Orchestrator) Download(ctx context.Context, peers []Peer, bar *progressbar.ProgressBar) error {
	o.log.Info("starting download with %d peers for %q (%d pieces)", len(peers), o.info.Name, o.info.TotalPieces)

	group, _ := errgroup.WithContext(ctx)

	stopProgress := make(chan struct{})
	if bar != nil {
		go o.trackProgress(bar, stopProgress)
	}

	for _, peer := range peers {
		peer := peer
		group.Go(func() error {
			sess := NewSession(peer, o.info, o.store, o.peerID, o.log)
			return sess.Run()
		})
	}

	err := group.Wait()
	close(stopProgress)

	if err != nil {
		return fmt.Errorf("torrent: session infrastructure error: %w", err)
	}

	if !o.store.IsDone() {
		o.log.Error("download incomplete: %d/%d pieces", o.store.CompletedCount(), o.info.TotalPieces)
		return ErrIncomplete
	}

	o.log.Info("download complete: %d/%d pieces", o.store.CompletedCount(), o.info.TotalPieces)
	return nil
}

// trackProgress polls the store's completed count and reflects it on bar
// until stop is closed. Polling (rather than a callback from the store)
// keeps the store's lock leaf-level: no observer runs under it.
func (o *Orchestrator) trackProgress(bar *progressbar.ProgressBar, stop <-chan struct{}) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			bar.Set(o.store.CompletedCount())
			return
		case <-ticker.C:
			bar.Set(o.store.CompletedCount())
		}
	}
}
