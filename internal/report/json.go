package report

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/helixir/ask-llm/internal/domain"
)

// Report is the structured form of the results. Documents holds the kept
// documents; FilteredDocuments holds the ones a filter query excluded.
type Report struct {
	Metadata          Metadata   `json:"metadata"`
	Documents         []Document `json:"documents"`
	FilteredDocuments []Document `json:"filtered_documents"`
}

// Metadata describes the run that produced the report.
type Metadata struct {
	Generated        time.Time      `json:"generated"`
	TotalDocuments   int            `json:"total_documents"`
	ModelUsed        string         `json:"model_used"`
	Models           []string       `json:"models"`
	Queries          []QuerySummary `json:"queries"`
	FilteredOutCount int            `json:"filtered_out_count"`
	RunID            string         `json:"run_id"`
}

// QuerySummary is the serialized form of a query definition.
type QuerySummary struct {
	ID         int                    `json:"id"`
	Text       string                 `json:"text"`
	Parameters map[string]interface{} `json:"parameters"`
	Structure  json.RawMessage        `json:"structure"`
}

// Document is a document with its answers.
type Document struct {
	ID              int                 `json:"id"`
	FilePath        string              `json:"file_path"`
	BibtexKey       string              `json:"bibtex_key"`
	BibtexMetadata  *domain.BibMetadata `json:"bibtex_metadata"`
	IsMetadataOnly  bool                `json:"is_metadata_only"`
	IsURL           bool                `json:"is_url"`
	PDFSource       domain.PDFSource    `json:"pdf_source"`
	IsFilteredOut   bool                `json:"is_filtered_out"`
	FilteredAtQuery *int                `json:"filtered_at_query"`
	FilterReason    string              `json:"filter_reason,omitempty"`
	RetrievalNote   string              `json:"retrieval_note,omitempty"`
	Queries         []Answer            `json:"queries"`
}

// Answer is one query result of a document.
type Answer struct {
	QueryID           int                    `json:"query_id"`
	Response          interface{}            `json:"response"`
	GroundingMetadata map[string]interface{} `json:"grounding_metadata"`
	Error             *domain.ResultError    `json:"error,omitempty"`
}

// Report renders the kept documents. Filtered-out documents are listed apart
// with the filter that excluded them and the answers recorded up to it.
func (a *Aggregator) Report() *Report {
	a.mu.RLock()
	defer a.mu.RUnlock()

	rep := &Report{
		Metadata: Metadata{
			Generated:        a.generated,
			RunID:            a.runID,
			FilteredOutCount: len(a.exclusions),
			Queries:          make([]QuerySummary, 0, len(a.queries)),
		},
		Documents:         make([]Document, 0, len(a.docs)),
		FilteredDocuments: make([]Document, 0, len(a.exclusions)),
	}

	seen := make(map[string]bool)
	for _, q := range a.queries {
		rep.Metadata.Queries = append(rep.Metadata.Queries, QuerySummary{
			ID:         q.ID,
			Text:       q.Prompt,
			Parameters: q.Parameters(),
			Structure:  q.Schema,
		})
		if q.IsDiscovery() || seen[q.Model] {
			continue
		}
		seen[q.Model] = true
		rep.Metadata.Models = append(rep.Metadata.Models, q.Model)
	}
	if len(rep.Metadata.Models) > 0 {
		rep.Metadata.ModelUsed = rep.Metadata.Models[0]
	} else {
		rep.Metadata.ModelUsed = domain.DefaultModel
	}

	for _, d := range a.docs {
		doc := a.document(d)
		if i, filtered := a.excluded[d.ID]; filtered {
			e := a.exclusions[i]
			queryID := e.QueryID
			doc.IsFilteredOut = true
			doc.FilteredAtQuery = &queryID
			doc.FilterReason = e.Reason
			rep.FilteredDocuments = append(rep.FilteredDocuments, doc)
			continue
		}
		rep.Documents = append(rep.Documents, doc)
	}
	rep.Metadata.TotalDocuments = len(rep.Documents)
	return rep
}

func (a *Aggregator) document(d *domain.DocumentUnit) Document {
	doc := Document{
		ID:             d.ID,
		FilePath:       d.FilePath,
		BibtexKey:      d.BibtexKey,
		BibtexMetadata: d.Metadata,
		IsMetadataOnly: d.IsMetadataOnly,
		IsURL:          d.Source == domain.SourceRemoteURL,
		PDFSource:      d.PDFSource,
		RetrievalNote:  d.RetrievalNote,
		Queries:        []Answer{},
	}
	if doc.IsURL {
		doc.FilePath = d.URL
	}
	for _, q := range a.queries {
		i, ok := a.logIndex[domain.PairKey{DocumentID: d.ID, QueryID: q.ID}]
		if !ok {
			continue
		}
		r := a.log[i]
		doc.Queries = append(doc.Queries, Answer{
			QueryID:           r.QueryID,
			Response:          r.Response,
			GroundingMetadata: r.Grounding,
			Error:             r.Error,
		})
	}
	return doc
}

// MarshalReport encodes a report as indented JSON.
func MarshalReport(rep *Report) ([]byte, error) {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return append(data, '\n'), nil
}
