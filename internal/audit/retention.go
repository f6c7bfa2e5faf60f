package audit

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// retentionLoop periodically removes orphaned manifest sidecars: lumberjack
// ages out its own ".jsonl" backups once they cross Retention, but it has
// no notion of the ".manifest.json" file sealed alongside one, so that
// file would otherwise outlive the data it describes.
func (s *Sink) retentionLoop() {
	ticker := time.NewTicker(s.cfg.FlushEvery)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweepOrphanedManifests()
		}
	}
}

func (s *Sink) sweepOrphanedManifests() {
	filepath.WalkDir(s.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, ".manifest.json") {
			return nil
		}
		backupPath := strings.TrimSuffix(path, ".manifest.json")
		if _, statErr := os.Stat(backupPath); os.IsNotExist(statErr) {
			os.Remove(path)
		}
		return nil
	})
}
