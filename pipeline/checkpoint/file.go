package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Subdir is the subdirectory of a run's output directory where file
// checkpoints live.
const Subdir = "checkpoints"

const (
	latestFile  = "latest.json"
	incrPrefix  = "cp-"
	fileSuffix  = ".json"
	tempPattern = ".cp-*.tmp"
)

// FileStore is a file-based implementation of Store.
//
// It keeps one serialized checkpoint per file under the checkpoints
// subdirectory of a run's output directory:
//
//	<outputDir>/checkpoints/cp-000001.json          (Incremental)
//	<outputDir>/checkpoints/cp-000002-trained.json  (Incremental, labeled)
//	<outputDir>/checkpoints/latest.json             (OverwriteLatest)
//
// Saves are atomic: the checkpoint is written to a temp file in the same
// directory and renamed into place, so a crash mid-write never leaves a
// corrupt file visible under a canonical name.
type FileStore struct {
	dir string
}

// NewFileStore creates a FileStore rooted at the checkpoints
// subdirectory of outputDir. The directory is created on first save,
// not here, so constructing a store for a read-only resume never
// touches the filesystem.
func NewFileStore(outputDir string) *FileStore {
	return &FileStore{dir: filepath.Join(outputDir, Subdir)}
}

// Dir returns the directory this store reads and writes.
func (f *FileStore) Dir() string {
	return f.dir
}

// Save writes the checkpoint to disk under the given naming policy and
// returns the path of the written file.
func (f *FileStore) Save(ctx context.Context, cp *Checkpoint, policy NamingPolicy) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	name, err := f.fileName(cp, policy)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	// Write to a temp file in the same directory, then rename into
	// place. Rename within one directory is atomic on POSIX systems.
	tmp, err := os.CreateTemp(f.dir, tempPattern)
	if err != nil {
		return "", fmt.Errorf("failed to create temp checkpoint file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to close temp checkpoint file: %w", err)
	}

	target := filepath.Join(f.dir, name)
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to publish checkpoint: %w", err)
	}

	return target, nil
}

// Load retrieves a checkpoint by selector.
//
// Selectors, in order of interpretation:
//   - Latest: latest.json if present, otherwise the highest-numbered
//     incremental checkpoint
//   - an explicit path (absolute, or containing a path separator)
//   - a bare .json file name, resolved inside the store's directory
//   - a label: the newest incremental checkpoint saved with that label
func (f *FileStore) Load(ctx context.Context, selector string) (*Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := f.resolve(selector)
	if err != nil {
		return nil, &LoadError{Selector: selector, Cause: err}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &LoadError{Selector: selector, Cause: fmt.Errorf("%w: %s", ErrNotFound, path)}
		}
		return nil, &LoadError{Selector: selector, Cause: err}
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, &LoadError{Selector: selector, Cause: fmt.Errorf("invalid checkpoint file: %w", err)}
	}
	if err := cp.Validate(); err != nil {
		return nil, &LoadError{Selector: selector, Cause: fmt.Errorf("invalid checkpoint file: %w", err)}
	}

	return &cp, nil
}

// fileName chooses the on-disk name for a checkpoint under a policy.
func (f *FileStore) fileName(cp *Checkpoint, policy NamingPolicy) (string, error) {
	switch policy {
	case OverwriteLatest:
		return latestFile, nil
	case Incremental:
		seq, err := f.nextSeq()
		if err != nil {
			return "", err
		}
		if cp.Label != "" {
			return fmt.Sprintf("%s%06d-%s%s", incrPrefix, seq, sanitizeLabel(cp.Label), fileSuffix), nil
		}
		return fmt.Sprintf("%s%06d%s", incrPrefix, seq, fileSuffix), nil
	default:
		return "", fmt.Errorf("unknown naming policy %v", policy)
	}
}

// nextSeq returns one past the highest incremental sequence on disk.
func (f *FileStore) nextSeq() (int, error) {
	names, err := f.incrementalNames()
	if err != nil {
		return 0, err
	}
	max := 0
	for _, name := range names {
		if seq, ok := parseSeq(name); ok && seq > max {
			max = seq
		}
	}
	return max + 1, nil
}

// resolve maps a selector to a concrete file path.
func (f *FileStore) resolve(selector string) (string, error) {
	if selector == Latest {
		latest := filepath.Join(f.dir, latestFile)
		if _, err := os.Stat(latest); err == nil {
			return latest, nil
		}
		return f.newestIncremental("")
	}

	if filepath.IsAbs(selector) || strings.ContainsRune(selector, os.PathSeparator) {
		return selector, nil
	}

	// A bare file name refers to a file in this store's directory.
	if strings.HasSuffix(selector, fileSuffix) {
		return filepath.Join(f.dir, selector), nil
	}

	return f.newestIncremental(selector)
}

// newestIncremental returns the highest-numbered incremental checkpoint,
// restricted to the given label when non-empty.
func (f *FileStore) newestIncremental(label string) (string, error) {
	names, err := f.incrementalNames()
	if err != nil {
		return "", err
	}

	if label != "" {
		marker := "-" + sanitizeLabel(label) + fileSuffix
		filtered := names[:0]
		for _, name := range names {
			if strings.HasSuffix(name, marker) {
				filtered = append(filtered, name)
			}
		}
		names = filtered
	}

	if len(names) == 0 {
		return "", ErrNotFound
	}

	// Zero-padded sequence numbers sort lexically.
	sort.Strings(names)
	return filepath.Join(f.dir, names[len(names)-1]), nil
}

// incrementalNames lists incremental checkpoint files in the store
// directory. A missing directory is an empty store, not an error.
func (f *FileStore) incrementalNames() ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, incrPrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// parseSeq extracts the sequence number from an incremental file name.
func parseSeq(name string) (int, bool) {
	rest := strings.TrimPrefix(name, incrPrefix)
	if len(rest) < 6 {
		return 0, false
	}
	var seq int
	if _, err := fmt.Sscanf(rest[:6], "%d", &seq); err != nil {
		return 0, false
	}
	return seq, true
}

// sanitizeLabel keeps labels filesystem-safe.
func sanitizeLabel(label string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, label)
}
