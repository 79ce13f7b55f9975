package torrent

import (
	"fmt"
	"os"
	"path/filepath"
)

// Assemble consumes the store's completed pieces as one contiguous byte
// stream and splits it to disk under outputDir according to info.Files.
// It is only called once Download reports success; the SHA-1 verification
// already performed by each Peer Session is the sole correctness
// guarantee — Assemble performs no further validation.
func Assemble(info *Info, store *PieceStore, outputDir string) error {
	data, err := store.Finalize()
	if err != nil {
		return err
	}

	var offset int64
	for _, file := range info.Files {
		path := filepath.Join(outputDir, file.Path)

		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("torrent: creating directory for %q: %w", path, err)
		}

		if offset+file.Length > int64(len(data)) {
			return fmt.Errorf("torrent: assembled stream too short for %q", path)
		}

		chunk := data[offset : offset+file.Length]
		if err := os.WriteFile(path, chunk, 0o644); err != nil {
			return fmt.Errorf("torrent: writing %q: %w", path, err)
		}

		offset += file.Length
	}

	return nil
}
