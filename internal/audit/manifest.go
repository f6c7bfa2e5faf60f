package audit

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Manifest seals one rotated backup file: its size, line count, and a
// stable blake2b-256 fingerprint of its bytes. The fingerprint plays the
// same role here as security.fingerprint does for a single audit entry —
// a cheap, verifiable stand-in for a full signature, since no signing key
// is defined for this surface.
type Manifest struct {
	File        string `json:"file"`
	SizeBytes   int64  `json:"sizeBytes"`
	LineCount   int    `json:"lineCount"`
	Fingerprint string `json:"fingerprint"`
	SealedAt    string `json:"sealedAt"`
}

// sealLatestBackup finds the most recently rotated backup in w.dir and
// writes its manifest, if it hasn't been sealed already. lumberjack names
// backups "<base>-<timestamp>.jsonl"; that timestamp suffix sorts
// lexicographically in creation order.
func (w *topicWriter) sealLatestBackup() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var backups []string
	prefix := w.base + "-"
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".jsonl") {
			backups = append(backups, name)
		}
	}
	if len(backups) == 0 {
		return nil
	}
	sort.Strings(backups)
	latest := backups[len(backups)-1]
	if latest == w.lastSealed {
		return nil
	}

	if err := writeManifest(w.dir, latest); err != nil {
		return err
	}
	w.lastSealed = latest
	return nil
}

func writeManifest(dir, filename string) error {
	path := filepath.Join(dir, filename)
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	sum := blake2b.Sum256(data)
	manifest := Manifest{
		File:        filename,
		SizeBytes:   int64(len(data)),
		LineCount:   strings.Count(string(data), "\n"),
		Fingerprint: hex.EncodeToString(sum[:]),
		SealedAt:    time.Now().UTC().Format(tsLayout),
	}
	out, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path+".manifest.json", out, 0644)
}
