package syncer

import "fmt"

// Span is an inclusive range of settlement positions.
type Span struct {
	From uint64
	To   uint64
}

// Size is the number of positions covered.
func (s Span) Size() uint64 {
	return s.To - s.From + 1
}

func (s Span) String() string {
	return fmt.Sprintf("[%d,%d]", s.From, s.To)
}

// SplitRange cuts [from, to] into consecutive spans of at most batchSize
// positions.
func SplitRange(from, to, batchSize uint64) ([]Span, error) {
	if batchSize == 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("to position must be >= from position")
	}

	spans := make([]Span, 0, (to-from)/batchSize+1)
	for start := from; ; {
		end := to
		if to-start >= batchSize {
			end = start + batchSize - 1
		}
		spans = append(spans, Span{From: start, To: end})
		if end == to {
			return spans, nil
		}
		start = end + 1
	}
}
