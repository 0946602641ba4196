package runtime

import "strings"

// sink buffers one turn's outbound messages in emission order. It is
// created per turn and is not safe for concurrent use.
type sink struct {
	limit   int
	sep     string
	entries []string
	dropped int
}

func newSink(limit int, sep string) *sink {
	return &sink{limit: limit, sep: sep}
}

// push queues msg. Empty messages and messages past the per-turn cap
// are dropped; the return value reports whether msg was kept.
func (s *sink) push(msg string) bool {
	if msg == "" {
		return false
	}
	if len(s.entries) >= s.limit {
		s.dropped++
		return false
	}
	s.entries = append(s.entries, msg)
	return true
}

func (s *sink) empty() bool { return len(s.entries) == 0 }

func (s *sink) count() int { return len(s.entries) }

// truncate discards entries pushed after the first n.
func (s *sink) truncate(n int) {
	if n >= 0 && n < len(s.entries) {
		s.entries = s.entries[:n]
	}
}

// render joins the buffered messages with the configured separator.
func (s *sink) render() string {
	return strings.Join(s.entries, s.sep)
}
