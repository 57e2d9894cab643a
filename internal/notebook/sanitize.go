package notebook

// StripKeys lists the output fields that depend on execution order and are
// removed by Sanitize.
var StripKeys = []string{"execution_count", "traceback", "prompt_number", "source"}

// StripOutput removes every StripKeys field from out and returns it.
// Missing keys are ignored.
func StripOutput(out Output) Output {
	for _, key := range StripKeys {
		delete(out, key)
	}
	return out
}

// Sanitize strips non-reproducible fields from every recorded output of the
// cell. It mutates the cell in place and returns it; applying it twice is a
// no-op.
func Sanitize(cell *Cell) *Cell {
	for _, out := range cell.Outputs {
		StripOutput(out)
	}
	return cell
}
