package notebook

import (
	"encoding/json"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cuejson "cuelang.org/go/encoding/json"
)

// schemaSource describes the structure each nbformat major version must have
// before it can be converted. It is deliberately open: unknown fields are
// kept, only the fields conversion relies on are constrained.
const schemaSource = `
#Source: string | [...string]

#V4Output: {
	output_type: "execute_result" | "display_data" | "stream" | "error"
	...
}

#V4Cell: {
	cell_type: "code" | "markdown" | "raw"
	source:    #Source
	metadata?: {...}
	outputs?: [...#V4Output]
	...
}

#V4: {
	nbformat:       4
	nbformat_minor: int & >=0
	metadata: {...}
	cells: [...#V4Cell]
	...
}

#V3Cell: {
	cell_type: string
	input?:    #Source
	source?:   #Source
	level?:    int
	outputs?: [...{output_type: string, ...}]
	...
}

#V3: {
	nbformat:        3 | 2
	nbformat_minor?: int & >=0
	metadata?: {...}
	worksheets: [...{cells: [...#V3Cell], ...}]
	...
}

#V1: {
	nbformat: 1
	cells: [...{cell_type: string, ...}]
	...
}
`

// schemaFor returns the definition path that validates a given nbformat major version.
func schemaFor(major int) (string, error) {
	switch major {
	case 4:
		return "#V4", nil
	case 3, 2:
		return "#V3", nil
	case 1:
		return "#V1", nil
	}
	return "", errUnsupportedFormat{major: major}
}

// validateStructure checks a decoded notebook against the schema for its
// version. A fresh CUE context is used per call since contexts are not safe
// for concurrent use.
func validateStructure(major int, raw map[string]any) error {
	def, err := schemaFor(major)
	if err != nil {
		return err
	}

	// Re-encoding normalizes escapes such as \/ that CUE string literals reject.
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("re-encoding notebook: %w", err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("nbformat.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compiling notebook schema: %w", err)
	}

	expr, err := cuejson.Extract("notebook.json", data)
	if err != nil {
		return fmt.Errorf("invalid notebook: %s", cueerrors.Details(err, nil))
	}
	doc := ctx.BuildExpr(expr)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("invalid notebook: %s", cueerrors.Details(err, nil))
	}

	unified := schema.LookupPath(cue.ParsePath(def)).Unify(doc)
	if err := unified.Validate(); err != nil {
		return fmt.Errorf("notebook does not match nbformat %d structure: %s", major, cueerrors.Details(err, nil))
	}
	return nil
}
