// Package report accumulates query results and renders them as the JSON
// report, the CSV table, the exclusion list and the processed-units log.
package report

import (
	"sync"
	"time"

	"github.com/helixir/ask-llm/internal/domain"
)

// Exclusion records why a document was filtered out.
type Exclusion struct {
	DocumentID int    `json:"document_id"`
	Identifier string `json:"identifier"`
	QueryID    int    `json:"query_id"`
	Reason     string `json:"reason"`
}

// State is the complete, serializable content of an Aggregator, including
// filtered-out documents. The checkpoint persists it.
type State struct {
	RunID      string                 `json:"run_id"`
	Generated  time.Time              `json:"generated"`
	Documents  []*domain.DocumentUnit `json:"documents"`
	Results    []*domain.QueryResult  `json:"results"`
	Exclusions []Exclusion            `json:"exclusions"`
}

// Aggregator is the append-only result log of a run. Results are keyed by
// (document, query) pair; document order is the order of first registration.
// It is safe for concurrent use.
type Aggregator struct {
	mu        sync.RWMutex
	queries   []domain.QueryDefinition
	runID     string
	generated time.Time
	clearing  bool

	docs     []*domain.DocumentUnit
	docIndex map[int]int

	log      []*domain.QueryResult
	logIndex map[domain.PairKey]int

	exclusions []Exclusion
	excluded   map[int]int
}

// New creates an empty aggregator. In clearing mode Merge overwrites existing
// pairs; otherwise the first result recorded for a pair is kept.
func New(queries []domain.QueryDefinition, runID string, clearing bool) *Aggregator {
	return &Aggregator{
		queries:   queries,
		runID:     runID,
		generated: time.Now().UTC(),
		clearing:  clearing,
		docIndex:  make(map[int]int),
		logIndex:  make(map[domain.PairKey]int),
		excluded:  make(map[int]int),
	}
}

// Restore creates an append-mode aggregator from a persisted state. Later
// documents and results are appended after the restored ones.
func Restore(queries []domain.QueryDefinition, st *State) *Aggregator {
	a := New(queries, st.RunID, false)
	if !st.Generated.IsZero() {
		a.generated = st.Generated
	}
	for _, d := range st.Documents {
		a.addDocument(d)
	}
	for _, r := range st.Results {
		a.merge(r)
	}
	for _, e := range st.Exclusions {
		a.exclude(e)
	}
	return a
}

// RunID returns the identifier of the run that owns the report.
func (a *Aggregator) RunID() string {
	return a.runID
}

// AddDocument registers a document. Registering a known ID refreshes its
// summary fields but keeps its position.
func (a *Aggregator) AddDocument(doc *domain.DocumentUnit) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.addDocument(doc)
}

func (a *Aggregator) addDocument(doc *domain.DocumentUnit) {
	cp := *doc
	if i, ok := a.docIndex[doc.ID]; ok {
		a.docs[i] = &cp
		return
	}
	a.docIndex[doc.ID] = len(a.docs)
	a.docs = append(a.docs, &cp)
}

// Merge records a result. It returns true if the log changed: the pair was
// absent, or the aggregator is clearing and the pair was overwritten.
func (a *Aggregator) Merge(r *domain.QueryResult) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.merge(r)
}

func (a *Aggregator) merge(r *domain.QueryResult) bool {
	key := r.Key()
	if i, ok := a.logIndex[key]; ok {
		if !a.clearing || a.log[i] == r {
			return false
		}
		a.log[i] = r
		return true
	}
	a.logIndex[key] = len(a.log)
	a.log = append(a.log, r)
	return true
}

// MarkFiltered records that a document was excluded by a filter query. Only
// the first exclusion of a document is kept.
func (a *Aggregator) MarkFiltered(docID, queryID int, reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	identifier := ""
	if i, ok := a.docIndex[docID]; ok {
		identifier = a.docs[i].Identifier()
	}
	a.exclude(Exclusion{DocumentID: docID, Identifier: identifier, QueryID: queryID, Reason: reason})
}

func (a *Aggregator) exclude(e Exclusion) {
	if _, ok := a.excluded[e.DocumentID]; ok {
		return
	}
	a.excluded[e.DocumentID] = len(a.exclusions)
	a.exclusions = append(a.exclusions, e)
}

// Result returns the recorded result for a pair.
func (a *Aggregator) Result(key domain.PairKey) (*domain.QueryResult, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	i, ok := a.logIndex[key]
	if !ok {
		return nil, false
	}
	return a.log[i], true
}

// ResultsFor returns the recorded results of a document keyed by pair.
func (a *Aggregator) ResultsFor(docID int) map[domain.PairKey]*domain.QueryResult {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[domain.PairKey]*domain.QueryResult)
	for _, q := range a.queries {
		key := domain.PairKey{DocumentID: docID, QueryID: q.ID}
		if i, ok := a.logIndex[key]; ok {
			out[key] = a.log[i]
		}
	}
	return out
}

// IsFiltered reports whether the document was excluded.
func (a *Aggregator) IsFiltered(docID int) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.excluded[docID]
	return ok
}

// Complete reports whether a document needs no further model calls: it was
// filtered out, or every prompt query has a terminal result.
func (a *Aggregator) Complete(docID int) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if _, ok := a.excluded[docID]; ok {
		return true
	}
	for _, q := range a.queries {
		if q.IsDiscovery() {
			continue
		}
		i, ok := a.logIndex[domain.PairKey{DocumentID: docID, QueryID: q.ID}]
		if !ok || !a.log[i].State.IsTerminal() {
			return false
		}
	}
	return true
}

// Exclusions returns the filtered-out documents in exclusion order.
func (a *Aggregator) Exclusions() []Exclusion {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]Exclusion(nil), a.exclusions...)
}

// Len returns the number of recorded results.
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.log)
}

// State returns a snapshot of the aggregator for persistence.
func (a *Aggregator) State() *State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	st := &State{
		RunID:      a.runID,
		Generated:  a.generated,
		Documents:  make([]*domain.DocumentUnit, len(a.docs)),
		Results:    append([]*domain.QueryResult(nil), a.log...),
		Exclusions: append([]Exclusion(nil), a.exclusions...),
	}
	for i, d := range a.docs {
		cp := *d
		st.Documents[i] = &cp
	}
	return st
}
