package avctp

// Labels issues transaction labels for locally initiated requests.
// Label 0 is reserved to mean "no request" and is never issued.
type Labels struct {
	last uint8
}

// Next consumes and returns the next label in 1..15.
func (l *Labels) Next() uint8 {
	l.last = l.Peek()
	return l.last
}

// Peek returns the label Next would return without consuming it.
func (l *Labels) Peek() uint8 {
	if l.last >= MaxLabel {
		return 1
	}
	return l.last + 1
}

// Last returns the most recently issued label, or 0 if none was issued.
func (l *Labels) Last() uint8 {
	return l.last
}

func (l *Labels) Reset() {
	l.last = 0
}
