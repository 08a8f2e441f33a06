package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lazuer/tabulate-analysis-core/internal/loader"
)

const (
	defaultHeadRows    = 5
	defaultSampleCount = 5
)

// Inspector is side-effect free and cheap enough to run on every job;
// results are not cached across jobs.
type Inspector struct {
	loader   *loader.Loader
	lexicon  Lexicon
	headRows int
}

func New(l *loader.Loader, lex Lexicon) *Inspector {
	return &Inspector{loader: l, lexicon: lex, headRows: defaultHeadRows}
}

// Inspect enumerates every DataFile in dataDir, derives a head-only
// schema for each, and returns them alongside the cross-file
// correspondence groups and a rendered normalization guide.
func (i *Inspector) Inspect(dataDir string) ([]FileSchema, []CorrespondenceGroup, string, error) {
	files, err := enumerateDataFiles(dataDir)
	if err != nil {
		return nil, nil, "", err
	}

	schemas := make([]FileSchema, 0, len(files))
	for _, f := range files {
		fs, err := i.schemaFor(f)
		if err != nil {
			return nil, nil, "", fmt.Errorf("schema for %s: %w", f.Name, err)
		}
		schemas = append(schemas, fs)
	}

	groups := correspondenceGroups(schemas)
	guide := renderNormalizationGuide(schemas, groups)
	return schemas, groups, guide, nil
}

func (i *Inspector) schemaFor(f loader.DataFile) (FileSchema, error) {
	frame, err := i.loader.LoadHead(f.Path, i.headRows)
	if err != nil {
		return FileSchema{}, err
	}

	columns := make([]ColumnSchema, len(frame.Columns))
	for idx, name := range frame.Columns {
		var colType loader.ColumnType
		if idx < len(frame.ColumnTypes) {
			colType = frame.ColumnTypes[idx]
		}
		columns[idx] = ColumnSchema{
			Name:         name,
			Type:         colType,
			Concepts:     sortedConcepts(i.lexicon.ConceptsFor(name)),
			SampleValues: sampleValues(frame.Rows, idx, defaultSampleCount),
		}
	}
	return FileSchema{File: f, RowCountEstimate: frame.RowCountEstimate, Columns: columns}, nil
}

func sortedConcepts(matches []ConceptMatch) []ConceptMatch {
	sort.Slice(matches, func(a, b int) bool { return matches[a].Concept < matches[b].Concept })
	return matches
}

// sampleValues collects up to limit non-null values for one column from the
// head rows already in memory, in row order.
func sampleValues(rows [][]string, col int, limit int) []string {
	var out []string
	for _, row := range rows {
		if col >= len(row) {
			continue
		}
		v := row[col]
		if v == loader.NullSentinel {
			continue
		}
		out = append(out, v)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func enumerateDataFiles(dataDir string) ([]loader.DataFile, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, err
	}
	var files []loader.DataFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, err
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		format, ok := formatForExt(ext)
		if !ok {
			continue
		}
		files = append(files, loader.DataFile{
			Name:   entry.Name(),
			Path:   filepath.Join(dataDir, entry.Name()),
			Size:   info.Size(),
			Mtime:  info.ModTime(),
			Format: format,
		})
	}
	sort.Slice(files, func(a, b int) bool { return files[a].Name < files[b].Name })
	return files, nil
}

func formatForExt(ext string) (loader.Format, bool) {
	switch ext {
	case ".csv":
		return loader.FormatCSV, true
	case ".tsv":
		return loader.FormatTSV, true
	case ".json":
		return loader.FormatJSON, true
	case ".xlsx":
		return loader.FormatXLSX, true
	case ".xls":
		return loader.FormatXLS, true
	case ".txt":
		return loader.FormatTXT, true
	default:
		return "", false
	}
}

// correspondenceGroups groups columns across files by semantic concept:
// each column contributes to every concept it matched,
// and a column matching no concept surfaces only under its own file's
// schema, never in a group.
func correspondenceGroups(schemas []FileSchema) []CorrespondenceGroup {
	byConcept := make(map[Concept][]ColumnRef)
	for _, fs := range schemas {
		for _, col := range fs.Columns {
			for _, cm := range col.Concepts {
				byConcept[cm.Concept] = append(byConcept[cm.Concept], ColumnRef{File: fs.File.Name, Column: col.Name})
			}
		}
	}

	var concepts []Concept
	for c := range byConcept {
		concepts = append(concepts, c)
	}
	sort.Slice(concepts, func(a, b int) bool { return concepts[a] < concepts[b] })

	groups := make([]CorrespondenceGroup, 0, len(concepts))
	for _, c := range concepts {
		groups = append(groups, CorrespondenceGroup{Concept: c, Members: byConcept[c]})
	}
	return groups
}

// renderNormalizationGuide formats per-file schemas and cross-file
// groupings for inclusion in a model prompt. Text content, not a
// contract; only emitted when two or more files are present.
func renderNormalizationGuide(schemas []FileSchema, groups []CorrespondenceGroup) string {
	if len(schemas) < 2 {
		return ""
	}

	var b strings.Builder
	b.WriteString("DATA NORMALIZATION GUIDE\n")
	for _, fs := range schemas {
		fmt.Fprintf(&b, "\nFile: %s (%s, %d bytes, modified %s, ~%d rows)\n", fs.File.Name, fs.File.Format, fs.File.Size, fs.File.Mtime.Format(time.RFC3339), fs.RowCountEstimate)
		for _, col := range fs.Columns {
			if len(col.Concepts) == 0 {
				fmt.Fprintf(&b, "  - %s (%s)\n", col.Name, col.Type)
				continue
			}
			names := make([]string, len(col.Concepts))
			for i, cm := range col.Concepts {
				names[i] = fmt.Sprintf("%s [%s]", cm.Concept, strings.Join(cm.Synonyms, "/"))
			}
			fmt.Fprintf(&b, "  - %s (%s) -> %s\n", col.Name, col.Type, strings.Join(names, ", "))
		}
	}

	if len(groups) > 0 {
		b.WriteString("\nCross-file correspondences:\n")
		for _, g := range groups {
			refs := make([]string, len(g.Members))
			for i, m := range g.Members {
				refs[i] = fmt.Sprintf("%s:%s", m.File, m.Column)
			}
			fmt.Fprintf(&b, "  %s: %s\n", g.Concept, strings.Join(refs, ", "))
		}
	}

	return b.String()
}
