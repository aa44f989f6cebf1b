package net

// Channel selects which transport a send uses. It is a routing tag only.
type Channel int

const (
	Reliable Channel = iota
	Unreliable
)

func (c Channel) String() string {
	switch c {
	case Reliable:
		return "reliable"
	case Unreliable:
		return "unreliable"
	}
	return "unknown"
}
