// Package schema implements the Schema Inspector: cheap head-only schema
// derivation over the data directory, a static synonym lexicon for
// per-column semantic hints, and cross-file column correspondence
// grouping, all rendered into a normalization guide a prompt can include
// verbatim.
package schema

import "github.com/lazuer/tabulate-analysis-core/internal/loader"

// ColumnSchema is one column's derived shape plus its semantic hints.
type ColumnSchema struct {
	Name         string
	Type         loader.ColumnType
	Concepts     []ConceptMatch
	SampleValues []string
}

// FileSchema is one data file's head-derived schema.
type FileSchema struct {
	File             loader.DataFile
	RowCountEstimate int
	Columns          []ColumnSchema
}

// CorrespondenceGroup gathers columns across files that share a semantic
// concept, e.g. {price: [fileA:Ticket_Cost, fileB:revenue]}.
type CorrespondenceGroup struct {
	Concept Concept
	Members []ColumnRef
}

// ColumnRef names a column by the file it came from.
type ColumnRef struct {
	File   string
	Column string
}
