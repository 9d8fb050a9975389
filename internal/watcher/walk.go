package watcher

import (
	"os"
	"path/filepath"
)

// Walk performs a one-time server-side directory walk over root,
// enqueuing a scan_file job for every regular file found. It is the
// third job-queue producer spec.md §4.8 names alongside the watcher and
// the fast-event ingestor — used for an initial backlog scan of
// pre-existing files a filesystem watcher never saw created.
func Walk(queue *Queue, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		queue.Push(scanFileJob(path))
		return nil
	})
}
