package importer

import (
	"context"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/cleared-dev/concilia/internal/model"
)

// Parser turns a statement file into raw records named by canonical field.
//
// Records is lazy and reads r incrementally. A *BlockError is yielded for a
// malformed block and iteration continues; any other error is fatal and is
// the last value yielded. The sequence is not restartable: r is consumed.
type Parser interface {
	Records(ctx context.Context, r io.Reader, fm model.FieldMap) iter.Seq2[model.RawRecord, error]
	Format() string
}

// BlockError reports one malformed transaction block.
type BlockError struct {
	Position int
	Reason   string
	Raw      string
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("block %d: %s", e.Position, e.Reason)
}

// Registry holds named parsers.
type Registry struct {
	parsers map[string]Parser
}

// FileInfo describes a statement file in the import directory.
type FileInfo struct {
	Name string
	Path string
	Size int64
}

// NewRegistry creates an empty parser registry.
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[string]Parser)}
}

// Register adds a parser. Panics on duplicate format.
func (r *Registry) Register(p Parser) {
	key := strings.ToLower(p.Format())
	if _, ok := r.parsers[key]; ok {
		panic("duplicate parser format: " + key)
	}
	r.parsers[key] = p
}

// Get returns the parser for format, or nil.
func (r *Registry) Get(format string) Parser {
	return r.parsers[strings.ToLower(format)]
}

// DefaultRegistry returns a registry with all built-in parsers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(&OFXParser{})
	r.Register(&CSVParser{})
	r.Register(&XLSParser{})
	return r
}

// project copies the bound source fields of one block onto canonical names.
// Source lookups are case-insensitive; values arrive keyed by upper-cased name.
func project(fm model.FieldMap, values map[string]string) map[model.CanonicalField]string {
	out := make(map[model.CanonicalField]string, len(fm.Fields))
	for _, f := range model.CanonicalFields {
		src := fm.Source(f)
		if src == "" {
			continue
		}
		if v, ok := values[strings.ToUpper(src)]; ok {
			out[f] = v
		}
	}
	return out
}

// importDir is the subdirectory for statement files waiting to be imported.
const importDir = "import"

// processedDir is the subdirectory for imported statement files.
const processedDir = "import/processed"

var statementExts = map[string]bool{
	".ofx": true,
	".qfx": true,
	".csv": true,
	".xls": true,
}

// Scan returns statement files in <repoRoot>/import/.
func Scan(repoRoot string) ([]FileInfo, error) {
	dir := filepath.Join(repoRoot, importDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading import dir: %w", err)
	}

	var files []FileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !statementExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		files = append(files, FileInfo{
			Name: e.Name(),
			Path: filepath.Join(dir, e.Name()),
			Size: info.Size(),
		})
	}
	return files, nil
}

// MarkProcessed moves a file from import/ to import/processed/.
func MarkProcessed(repoRoot, fileName string) error {
	src := filepath.Join(repoRoot, importDir, fileName)
	dstDir := filepath.Join(repoRoot, processedDir)

	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return fmt.Errorf("creating processed dir: %w", err)
	}

	dst := filepath.Join(dstDir, fileName)
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("moving %s to processed: %w", fileName, err)
	}
	return nil
}
