package notebook

// Format is the canonical nbformat major version every Document is
// converted to.
const Format = 4

// FormatMinor is the nbformat minor version written on converted documents.
const FormatMinor = 4

// CellType tags what a cell holds. Only code cells are tests.
type CellType string

const (
	CellCode     CellType = "code"
	CellMarkdown CellType = "markdown"
	CellRaw      CellType = "raw"
)

// Output is one recorded output of a previous execution.
// Keys follow the nbformat 4 output schema (output_type, data, text, ...).
type Output map[string]any

// Cell is one unit of a Document.
type Cell struct {
	Type     CellType       `json:"cell_type"`
	Source   string         `json:"source"`
	Metadata map[string]any `json:"metadata"`

	// Outputs and ExecutionCount are only meaningful for code cells.
	Outputs        []Output `json:"outputs,omitempty"`
	ExecutionCount *int     `json:"execution_count,omitempty"`
}

// IsCode reports whether the cell is a code cell.
func (c *Cell) IsCode() bool {
	return c.Type == CellCode
}

// Document is a parsed notebook normalized to nbformat 4.
type Document struct {
	// Path is the file the document was loaded from (empty for Parse).
	Path string `json:"-"`

	// OrigFormat is the nbformat major version found on disk.
	OrigFormat int `json:"-"`

	Format      int            `json:"nbformat"`
	FormatMinor int            `json:"nbformat_minor"`
	Metadata    map[string]any `json:"metadata"`
	Cells       []*Cell        `json:"cells"`
}

// KernelName returns the kernelspec name the document asks for, or "" when
// the document does not declare one.
func (d *Document) KernelName() string {
	spec, ok := d.Metadata["kernelspec"].(map[string]any)
	if !ok {
		return ""
	}
	name, _ := spec["name"].(string)
	return name
}

// Language returns the kernel language declared in the metadata, or "".
func (d *Document) Language() string {
	if info, ok := d.Metadata["language_info"].(map[string]any); ok {
		if name, ok := info["name"].(string); ok {
			return name
		}
	}
	if spec, ok := d.Metadata["kernelspec"].(map[string]any); ok {
		if lang, ok := spec["language"].(string); ok {
			return lang
		}
	}
	return ""
}
