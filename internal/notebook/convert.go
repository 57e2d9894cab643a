package notebook

import (
	"fmt"
	"strings"
)

// mimeMap maps the short output keys of nbformat 2/3 to mime types.
var mimeMap = map[string]string{
	"text":       "text/plain",
	"html":       "text/html",
	"svg":        "image/svg+xml",
	"png":        "image/png",
	"jpeg":       "image/jpeg",
	"latex":      "text/latex",
	"json":       "application/json",
	"javascript": "application/javascript",
}

// fromV4 builds a Document from an nbformat 4 notebook.
func fromV4(raw map[string]any) (*Document, error) {
	minor, _ := asInt(raw["nbformat_minor"])
	doc := &Document{
		Format:      Format,
		FormatMinor: minor,
		Metadata:    objectOrEmpty(raw["metadata"]),
	}

	cells, _ := raw["cells"].([]any)
	for i, c := range cells {
		obj, ok := c.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("cell %d: not an object", i)
		}
		cell := &Cell{
			Type:     CellType(stringField(obj, "cell_type")),
			Source:   joinLines(obj["source"]),
			Metadata: objectOrEmpty(obj["metadata"]),
		}
		if cell.IsCode() {
			cell.ExecutionCount = intPtr(obj["execution_count"])
			outputs, err := v4Outputs(obj["outputs"])
			if err != nil {
				return nil, fmt.Errorf("cell %d: %w", i, err)
			}
			cell.Outputs = outputs
		}
		doc.Cells = append(doc.Cells, cell)
	}
	return doc, nil
}

func v4Outputs(v any) ([]Output, error) {
	list, _ := v.([]any)
	outputs := make([]Output, 0, len(list))
	for i, o := range list {
		obj, ok := o.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("output %d: not an object", i)
		}
		out := Output(obj)
		rejoinOutput(out)
		outputs = append(outputs, out)
	}
	return outputs, nil
}

// rejoinOutput joins the multi-line list form of text and mime bundle values.
func rejoinOutput(out Output) {
	if _, ok := out["text"].([]any); ok {
		out["text"] = joinLines(out["text"])
	}
	data, ok := out["data"].(map[string]any)
	if !ok {
		return
	}
	for mime, v := range data {
		if strings.HasSuffix(mime, "json") {
			continue
		}
		if _, ok := v.([]any); ok {
			data[mime] = joinLines(v)
		}
	}
}

// fromWorksheets converts an nbformat 2 or 3 notebook, whose cells live in
// worksheets, to the canonical schema.
func fromWorksheets(raw map[string]any, major int) (*Document, error) {
	meta := objectOrEmpty(raw["metadata"])
	delete(meta, "name")
	delete(meta, "signature")
	meta["orig_nbformat"] = major

	doc := &Document{
		Format:      Format,
		FormatMinor: FormatMinor,
		Metadata:    meta,
	}

	worksheets, _ := raw["worksheets"].([]any)
	for w, ws := range worksheets {
		sheet, ok := ws.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("worksheet %d: not an object", w)
		}
		cells, _ := sheet["cells"].([]any)
		for i, c := range cells {
			obj, ok := c.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("worksheet %d cell %d: not an object", w, i)
			}
			doc.Cells = append(doc.Cells, upgradeCell(obj))
		}
	}
	return doc, nil
}

// upgradeCell converts one nbformat 3 cell.
func upgradeCell(obj map[string]any) *Cell {
	meta := objectOrEmpty(obj["metadata"])

	switch stringField(obj, "cell_type") {
	case "code":
		if collapsed, ok := obj["collapsed"]; ok {
			meta["collapsed"] = collapsed
		}
		return &Cell{
			Type:           CellCode,
			Source:         joinLines(obj["input"]),
			Metadata:       meta,
			ExecutionCount: intPtr(obj["prompt_number"]),
			Outputs:        upgradeOutputs(obj["outputs"]),
		}
	case "heading":
		level, ok := asInt(obj["level"])
		if !ok || level < 1 {
			level = 1
		}
		text := strings.Join(strings.Split(joinLines(obj["source"]), "\n"), " ")
		return &Cell{
			Type:     CellMarkdown,
			Source:   strings.Repeat("#", level) + " " + text,
			Metadata: meta,
		}
	case "raw":
		return &Cell{Type: CellRaw, Source: joinLines(obj["source"]), Metadata: meta}
	default:
		// markdown, html and plaintext all become markdown
		return &Cell{Type: CellMarkdown, Source: joinLines(obj["source"]), Metadata: meta}
	}
}

func upgradeOutputs(v any) []Output {
	list, _ := v.([]any)
	outputs := make([]Output, 0, len(list))
	for _, o := range list {
		obj, ok := o.(map[string]any)
		if !ok {
			continue
		}
		outputs = append(outputs, upgradeOutput(obj))
	}
	return outputs
}

// upgradeOutput converts an nbformat 3 output to its nbformat 4 form.
func upgradeOutput(obj map[string]any) Output {
	out := Output{}
	switch stringField(obj, "output_type") {
	case "pyout", "execute_result", "display_data":
		kind := "display_data"
		if t := stringField(obj, "output_type"); t != "display_data" {
			kind = "execute_result"
			out["execution_count"] = obj["prompt_number"]
		}
		out["output_type"] = kind
		out["metadata"] = objectOrEmpty(obj["metadata"])
		data := map[string]any{}
		for key, val := range obj {
			switch key {
			case "output_type", "prompt_number", "execution_count", "metadata":
				continue
			}
			mime, ok := mimeMap[key]
			if !ok {
				mime = key
			}
			if strings.HasSuffix(mime, "json") {
				data[mime] = val
			} else {
				data[mime] = joinLines(val)
			}
		}
		out["data"] = data
	case "stream":
		out["output_type"] = "stream"
		name := stringField(obj, "stream")
		if name == "" {
			name = "stdout"
		}
		out["name"] = name
		out["text"] = joinLines(obj["text"])
	case "pyerr", "error":
		out["output_type"] = "error"
		out["ename"] = obj["ename"]
		out["evalue"] = obj["evalue"]
		out["traceback"] = obj["traceback"]
	default:
		for k, v := range obj {
			out[k] = v
		}
	}
	return out
}

// fromV1 converts an nbformat 1 notebook (flat cell list, code under "code").
func fromV1(raw map[string]any) (*Document, error) {
	meta := objectOrEmpty(raw["metadata"])
	meta["orig_nbformat"] = 1

	doc := &Document{
		Format:      Format,
		FormatMinor: FormatMinor,
		Metadata:    meta,
	}

	cells, _ := raw["cells"].([]any)
	for i, c := range cells {
		obj, ok := c.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("cell %d: not an object", i)
		}
		if stringField(obj, "cell_type") == "code" {
			doc.Cells = append(doc.Cells, &Cell{
				Type:           CellCode,
				Source:         joinLines(obj["code"]),
				Metadata:       map[string]any{},
				ExecutionCount: intPtr(obj["prompt_number"]),
				Outputs:        []Output{},
			})
			continue
		}
		doc.Cells = append(doc.Cells, &Cell{
			Type:     CellMarkdown,
			Source:   joinLines(obj["text"]),
			Metadata: map[string]any{},
		})
	}
	return doc, nil
}

// joinLines returns a multi-line string field as one string. nbformat stores
// these either as a string or as a list of lines that keep their newlines.
func joinLines(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []any:
		var b strings.Builder
		for _, line := range s {
			if str, ok := line.(string); ok {
				b.WriteString(str)
			}
		}
		return b.String()
	}
	return ""
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

func objectOrEmpty(v any) map[string]any {
	if obj, ok := v.(map[string]any); ok {
		return obj
	}
	return map[string]any{}
}

func intPtr(v any) *int {
	n, ok := asInt(v)
	if !ok {
		return nil
	}
	return &n
}
