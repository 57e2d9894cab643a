package notebook

import "iter"

// CodeCells yields the code cells of doc in document order together with
// their index among code cells. The sequence can be ranged over any number
// of times.
func CodeCells(doc *Document) iter.Seq2[int, *Cell] {
	return func(yield func(int, *Cell) bool) {
		idx := 0
		for _, cell := range doc.Cells {
			if !cell.IsCode() {
				continue
			}
			if !yield(idx, cell) {
				return
			}
			idx++
		}
	}
}

// HasCodeCells reports whether doc has at least one code cell.
func HasCodeCells(doc *Document) bool {
	for range CodeCells(doc) {
		return true
	}
	return false
}

// CountCodeCells returns the number of code cells in doc.
func CountCodeCells(doc *Document) int {
	n := 0
	for range CodeCells(doc) {
		n++
	}
	return n
}
