// Command sbtorrent downloads a single torrent's payload to disk: it
// contacts an HTTP tracker, exchanges pieces with the peers it returns, and
// assembles the verified pieces into the torrent's file layout.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"sbtorrent/torrent"
)

const clientPort = 6881

var cli struct {
	Torrent string `arg:"" help:"Path to the .torrent file to download."`
	Output  string `optional:"" short:"o" default:"." help:"Directory to write the downloaded files into."`
	Debug   bool   `optional:"" help:"Enable verbose per-message wire logging."`
}

func main() {
	kong.Parse(&cli,
		kong.Name("sbtorrent"),
		kong.Description("A leech-only BitTorrent client."),
	)

	log := torrent.NewLogger(cli.Debug)

	if err := run(log); err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}
}

func run(log *torrent.Logger) error {
	info, trackers, err := torrent.ParseFile(cli.Torrent)
	if err != nil {
		return fmt.Errorf("parsing torrent file: %w", err)
	}
	if len(trackers) == 0 {
		return fmt.Errorf("no HTTP trackers found in %q", cli.Torrent)
	}

	peerID, err := torrent.NewPeerID()
	if err != nil {
		return fmt.Errorf("generating peer id: %w", err)
	}
	log.Info("client peer id: %s", peerID)

	ctx := context.Background()
	tracker := torrent.NewTrackerClient()

	var peers []torrent.Peer
	for _, url := range trackers {
		found, err := tracker.Announce(ctx, url, info, peerID, clientPort)
		if err != nil {
			log.Fail("tracker %s: %v", url, err)
			continue
		}
		peers = found
		log.Info("tracker %s returned %d peers", url, len(peers))
		break
	}
	if len(peers) == 0 {
		return fmt.Errorf("no peers received from any tracker")
	}

	store := torrent.NewPieceStore(info)
	orch := torrent.NewOrchestrator(info, store, peerID, log)
	bar := torrent.NewProgressBar(info.TotalPieces, info.Name)

	if err := orch.Download(ctx, peers, bar); err != nil {
		return fmt.Errorf("download: %w", err)
	}

	if err := torrent.Assemble(info, store, cli.Output); err != nil {
		return fmt.Errorf("assembling files: %w", err)
	}

	fmt.Printf("\n%s: download complete\n", info.Name)
	return nil
}
