// Package domain provides the data model shared by every stage of the askllm
// pipeline: query definitions, document units, query results and the error
// taxonomy.
package domain

// PairState is the lifecycle of one (document, query) pair.
type PairState string

const (
	PairStatePending   PairState = "pending"
	PairStateInFlight  PairState = "in_flight"
	PairStateSucceeded PairState = "succeeded"
	PairStateFailed    PairState = "failed"
)

// IsTerminal returns true if the state will not change within the run.
func (s PairState) IsTerminal() bool {
	switch s {
	case PairStateSucceeded, PairStateFailed:
		return true
	default:
		return false
	}
}

// SourceKind discriminates where a document's content comes from.
type SourceKind string

const (
	SourceLocalFile    SourceKind = "local_file"
	SourceRemoteURL    SourceKind = "remote_url"
	SourceMetadataOnly SourceKind = "metadata_only"
)

// PDFSource records how a document's PDF was obtained.
type PDFSource string

const (
	PDFSourceLocalFile        PDFSource = "local_file"
	PDFSourceProvidedURL      PDFSource = "provided_url"
	PDFSourceSearchedDownload PDFSource = "searched_download"
	PDFSourceIndexDownload    PDFSource = "index_download"
	PDFSourceMetadataOnly     PDFSource = "metadata_only"
)

// SourceType identifies an academic index used for discovery.
type SourceType string

const (
	SourceTypeSemanticScholar SourceType = "semantic_scholar"
	SourceTypeOpenAlex        SourceType = "openalex"
)

// DocumentOrigin records how a document entered the batch.
type DocumentOrigin string

const (
	OriginInput     DocumentOrigin = "input"
	OriginDiscovery DocumentOrigin = "discovery"
)
