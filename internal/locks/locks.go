// Package locks implements the file-lock protocol that serializes target
// production across cooperating pipeline processes.
//
// A lock file is a zero-byte sentinel created with O_CREAT|O_EXCL; the
// process that wins the exclusive create owns the right to produce the
// corresponding target until it removes the file or crashes. A paired
// recovery file marks a lock abandoned by a killed run, allowing the next
// process that encounters it to seize the lock and rerun the work.
package locks

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Prefix marks the filename component of every lock file.
const Prefix = "lock."

// RecoverPrefix marks the filename component of every recovery file.
const RecoverPrefix = "recover." + Prefix

// Delimiter replaces path separators when a lock name is derived from a
// target path, so locks for targets in subfolders still live flat in the
// output folder.
const Delimiter = "__"

// ErrLockExists reports that an exclusive create lost the race: another
// process created the lock between our existence test and our create.
var ErrLockExists = errors.New("lock file already exists")

// MakeName derives a lock name from a target path. The target is taken
// relative to the output folder when it lies beneath it, and separators
// are replaced so the lock lands directly in the output folder.
func MakeName(target, outfolder string) string {
	name := filepath.Clean(target)
	if rel, err := filepath.Rel(filepath.Clean(outfolder), name); err == nil && !strings.HasPrefix(rel, "..") {
		name = rel
	}
	name = strings.TrimPrefix(name, string(filepath.Separator))
	return strings.ReplaceAll(name, string(filepath.Separator), Delimiter)
}

// ensurePrefix prefixes a bare lock name, leaving already-prefixed names
// untouched.
func ensurePrefix(base string) string {
	if strings.HasPrefix(base, Prefix) {
		return base
	}
	return Prefix + base
}

// Path builds the full path of a lock file from a name base. Only the
// filename component receives the lock prefix; any directory component of
// the base is preserved beneath the output folder.
func Path(outfolder, nameBase string) string {
	dir, name := filepath.Split(nameBase)
	lockName := ensurePrefix(name)
	if dir != "" {
		lockName = filepath.Join(dir, lockName)
	}
	return filepath.Join(outfolder, lockName)
}

// RecoverPath substitutes the recovery prefix on the filename component of
// a lock path.
func RecoverPath(lockPath string) string {
	dir, name := filepath.Split(lockPath)
	if strings.HasPrefix(name, Prefix) {
		name = RecoverPrefix + strings.TrimPrefix(name, Prefix)
	} else {
		name = RecoverPrefix + name
	}
	return filepath.Join(dir, name)
}

// Create creates path non-exclusively, truncating any existing file. Used
// in recover and overwrite modes, where seizing an existing lock is the
// point.
func Create(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create lock file %s: %w", path, err)
	}
	return f.Close()
}

// CreateRaceFree creates path with exclusive-create semantics. A loss of
// the creation race is reported as ErrLockExists so the run loop can
// distinguish it from real failures and restart its tests.
func CreateRaceFree(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s", ErrLockExists, path)
		}
		return fmt.Errorf("create lock file %s: %w", path, err)
	}
	return f.Close()
}

// Exists reports whether a file is present at path.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
