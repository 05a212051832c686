package retry

import "strings"

// TopicMatches implements MQTT topic-match semantics (spec §4.4): a "+"
// segment matches exactly one topic segment, a trailing "#" matches any
// remaining segments, and every other segment must match byte-for-byte.
// Grounded on the teacher's Msg.Path topic-segment model
// (messenger/msg.go), reused here for pattern comparison instead of
// routing.
func TopicMatches(pattern, channel string) bool {
	pSegs := strings.Split(pattern, "/")
	cSegs := strings.Split(channel, "/")

	for i, p := range pSegs {
		if p == "#" {
			return true // matches everything remaining, including nothing
		}
		if i >= len(cSegs) {
			return false
		}
		if p == "+" {
			continue
		}
		if p != cSegs[i] {
			return false
		}
	}
	return len(pSegs) == len(cSegs)
}
