package supervise

// TailLimit caps the number of output lines retained for failure reporting.
const TailLimit = 20

// tail is a fixed-capacity ring buffer over the most recent output lines.
// It bounds diagnostic memory regardless of how much a process writes.
type tail struct {
	lines []string
	next  int
	full  bool
}

func newTail(capacity int) *tail {
	if capacity <= 0 {
		capacity = TailLimit
	}
	return &tail{lines: make([]string, capacity)}
}

func (t *tail) Append(line string) {
	t.lines[t.next] = line
	t.next = (t.next + 1) % len(t.lines)
	if t.next == 0 {
		t.full = true
	}
}

// Lines returns the retained lines in arrival order.
func (t *tail) Lines() []string {
	if !t.full {
		return append([]string(nil), t.lines[:t.next]...)
	}
	out := make([]string, 0, len(t.lines))
	out = append(out, t.lines[t.next:]...)
	out = append(out, t.lines[:t.next]...)
	return out
}
