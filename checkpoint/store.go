package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/JoNeedsSleep/machiave-llm/memory"
)

// BucketLayout names checkpoint directories by local wall-clock hour.
const BucketLayout = "2006_01_02_15"

const (
	StateFile    = "game_state.json"
	MemoryFile   = "memory.json"
	MetadataFile = "metadata.json"
)

var ErrNotFound = errors.New("checkpoint not found")

// Metadata describes the run that produced a checkpoint. It is informational:
// after a load it is only used to restore configuration.
type Metadata struct {
	Phase          string `json:"phase"`
	RoundsPerPhase int    `json:"turns_per_round"`
	DebugMode      bool   `json:"debug_mode"`
	Timestamp      int64  `json:"timestamp"`
	RunID          string `json:"run_id,omitempty"`
}

func (m Metadata) IsZero() bool {
	return m == Metadata{}
}

type Checkpoint struct {
	Key      string
	State    []byte
	Memory   *memory.Book
	Metadata Metadata
}

type Option func(s *Store)

// WithClock overrides the time source used to pick the bucket.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store keeps checkpoints on disk, one directory per hour bucket. Saves into
// the same bucket overwrite each other.
type Store struct {
	baseDir string
	now     func() time.Time
}

func NewStore(baseDir string, options ...Option) *Store {
	s := &Store{
		baseDir: baseDir,
		now:     time.Now,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

func (s *Store) BaseDir() string {
	return s.baseDir
}

// Save writes the engine state, the memory logs and, when given, the run
// metadata into the current hour bucket and returns the bucket key.
func (s *Store) Save(ctx context.Context, state []byte, book *memory.Book, meta *Metadata) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if book == nil {
		return "", fmt.Errorf("failed to save checkpoint: memory is nil")
	}

	key := s.now().Format(BucketLayout)
	dir := filepath.Join(s.baseDir, key)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	memoryDoc, err := book.Encode()
	if err != nil {
		return "", err
	}
	if err := writeFileAtomic(dir, StateFile, state); err != nil {
		return "", err
	}
	if err := writeFileAtomic(dir, MemoryFile, memoryDoc); err != nil {
		return "", err
	}

	metaPath := filepath.Join(dir, MetadataFile)
	if meta == nil {
		// a metadata file left by an earlier save in this bucket would describe another state
		if err := os.Remove(metaPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("failed to remove stale metadata: %w", err)
		}
		return key, nil
	}
	metaDoc, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := writeFileAtomic(dir, MetadataFile, metaDoc); err != nil {
		return "", err
	}
	return key, nil
}

// Load reads the checkpoint stored under key. It returns ErrNotFound when the
// bucket lacks the engine state or the memory logs. Missing metadata yields
// the zero Metadata.
func (s *Store) Load(ctx context.Context, key string) (*Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ValidKey(key) {
		return nil, fmt.Errorf("%w: invalid key %q", ErrNotFound, key)
	}
	dir := filepath.Join(s.baseDir, key)

	state, err := readArtifact(dir, StateFile)
	if err != nil {
		return nil, err
	}
	memoryDoc, err := readArtifact(dir, MemoryFile)
	if err != nil {
		return nil, err
	}
	book, err := memory.Decode(memoryDoc)
	if err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", key, err)
	}

	cp := &Checkpoint{
		Key:    key,
		State:  state,
		Memory: book,
	}
	metaDoc, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	default:
		if err := json.Unmarshal(metaDoc, &cp.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata of %s: %w", key, err)
		}
	}
	return cp, nil
}

// List returns the bucket keys, newest first. Directories that are not
// bucket names are ignored.
func (s *Store) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.baseDir)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	keys := []string{}
	for _, entry := range entries {
		if entry.IsDir() && ValidKey(entry.Name()) {
			keys = append(keys, entry.Name())
		}
	}
	// zero-padded layout, so lexical order is chronological order
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	return keys, nil
}

// ValidKey reports whether key is a well-formed hour bucket.
func ValidKey(key string) bool {
	t, err := time.Parse(BucketLayout, key)
	return err == nil && t.Format(BucketLayout) == key
}

func readArtifact(dir, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s has no %s", ErrNotFound, filepath.Base(dir), name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}

// writeFileAtomic writes through a temp file in dir so readers never observe
// a partially written artifact.
func writeFileAtomic(dir, name string, data []byte) (err error) {
	f, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	if _, err = f.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", name, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", name, err)
	}
	if err = os.Rename(tmp, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", name, err)
	}
	return nil
}
