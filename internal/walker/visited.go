package walker

import (
	"os"
	"sync"
)

// visitedSet bounds symlink cycles during a walk by tracking the identity
// of every directory entered via os.SameFile, rather than relying on path
// string comparison (which a symlink loop defeats).
type visitedSet struct {
	mu    sync.Mutex
	infos []os.FileInfo
}

func newVisitedSet() *visitedSet {
	return &visitedSet{}
}

// visitDir returns false if info identifies a directory already visited in
// this walk (a cycle), true otherwise, recording it as visited.
func (v *visitedSet) visitDir(info os.FileInfo) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, seen := range v.infos {
		if os.SameFile(seen, info) {
			return false
		}
	}
	v.infos = append(v.infos, info)
	return true
}
