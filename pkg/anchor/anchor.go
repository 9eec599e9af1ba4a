package anchor

import "math"

// Message is one user-authored entry attached to an anchor. Messages are
// immutable once created.
type Message struct {
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"` // milliseconds since epoch, device clock
}

// Anchor is a geographic clustering point holding one or more messages. Its
// coordinate is the position of the first message and is never recomputed as
// further messages merge in.
type Anchor struct {
	ID        string    `json:"id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Messages  []Message `json:"messages"`
}

// Clone returns a copy whose message slice is independent of the original.
func (a Anchor) Clone() Anchor {
	out := a
	out.Messages = make([]Message, len(a.Messages))
	copy(out.Messages, a.Messages)
	return out
}

// ValidCoordinate reports whether a latitude/longitude pair is a real point
// on the globe.
func ValidCoordinate(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lng) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
