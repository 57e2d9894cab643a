// Package notebook reads notebook documents and normalizes them to one
// canonical schema.
//
// Notebooks exist on disk in several nbformat major versions. Load detects
// the version, checks the document's structure against a CUE schema for
// that version, and converts the result to nbformat 4 so the rest of the
// system only ever sees one shape:
//
//	doc, err := notebook.Load("analysis_test.ipynb")
//	if err != nil {
//	    // *notebook.ParseError: skip the file
//	}
//	for idx, cell := range notebook.CodeCells(doc) {
//	    fmt.Println(idx, cell.Source)
//	}
//
// # Sanitization
//
// Outputs recorded by a previous run carry execution-order dependent fields.
// Sanitize removes them (see StripKeys) so cells compare equal no matter
// when the notebook was last executed.
package notebook
