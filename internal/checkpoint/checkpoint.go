// Package checkpoint persists the pending queue and the partial report after
// every completed document so an interrupted run can resume.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/helixir/ask-llm/internal/domain"
	"github.com/helixir/ask-llm/internal/observability"
	"github.com/helixir/ask-llm/internal/report"
)

// Version is the checkpoint format version. Checkpoints written by another
// version are rejected.
const Version = 1

// Checkpoint is the persisted state of a run.
type Checkpoint struct {
	Version int    `json:"version"`
	RunID   string `json:"run_id"`
	// Fingerprint identifies the query definitions the run was started with.
	Fingerprint string        `json:"fingerprint"`
	Pending     []int         `json:"pending"`
	Report      *report.State `json:"report"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Store reads and writes one checkpoint file.
type Store struct {
	path    string
	metrics *observability.Metrics
}

// NewStore creates a store for path.
func NewStore(path string, metrics *observability.Metrics) *Store {
	return &Store{path: path, metrics: metrics}
}

// Path returns the checkpoint file path.
func (s *Store) Path() string {
	return s.path
}

// Save writes cp atomically. A failure is a CheckpointIOError.
func (s *Store) Save(cp *Checkpoint) error {
	cp.Version = Version
	cp.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(cp)
	if err != nil {
		s.metrics.RecordCheckpointWrite("error")
		return &domain.CheckpointIOError{Path: s.path, Op: "encode", Err: err}
	}
	if err := report.WriteFileAtomic(s.path, data); err != nil {
		s.metrics.RecordCheckpointWrite("error")
		return &domain.CheckpointIOError{Path: s.path, Op: "write", Err: err}
	}
	s.metrics.RecordCheckpointWrite("success")
	return nil
}

// Load reads the checkpoint. It returns domain.ErrNotFound when there is
// none and a CheckpointIOError when the file cannot be read or decoded.
func (s *Store) Load() (*Checkpoint, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, &domain.CheckpointIOError{Path: s.path, Op: "read", Err: err}
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, &domain.CheckpointIOError{Path: s.path, Op: "decode", Err: err}
	}
	if cp.Version != Version {
		return nil, &domain.CheckpointIOError{
			Path: s.path,
			Op:   "decode",
			Err:  fmt.Errorf("%w: format version %d, want %d", domain.ErrCheckpointMismatch, cp.Version, Version),
		}
	}
	if cp.Report == nil {
		cp.Report = &report.State{RunID: cp.RunID}
	}
	return &cp, nil
}

// Remove deletes the checkpoint file. A missing file is not an error.
func (s *Store) Remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &domain.CheckpointIOError{Path: s.path, Op: "remove", Err: err}
	}
	return nil
}

// Fingerprint hashes the query definitions. Resuming with different queries
// would mix answers to different prompts in one report.
func Fingerprint(queries []domain.QueryDefinition) string {
	data, err := json.Marshal(queries)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Verify checks that cp belongs to a run over queries.
func Verify(cp *Checkpoint, queries []domain.QueryDefinition) error {
	if cp.Fingerprint != Fingerprint(queries) {
		return fmt.Errorf("%w: query file changed since run %s", domain.ErrCheckpointMismatch, cp.RunID)
	}
	return nil
}

// Completer reports whether a document needs no more work.
type Completer interface {
	Complete(docID int) bool
}

// PendingQueue returns the documents that are not complete, in order.
func PendingQueue(docs []*domain.DocumentUnit, done Completer) []*domain.DocumentUnit {
	var pending []*domain.DocumentUnit
	for _, d := range docs {
		if !done.Complete(d.ID) {
			pending = append(pending, d)
		}
	}
	return pending
}

// IDs returns the IDs of docs.
func IDs(docs []*domain.DocumentUnit) []int {
	ids := make([]int, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids
}
