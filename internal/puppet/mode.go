package puppet

// Mode is the global mutual-exclusion flag over the avatar's arms. At most
// one animation driver — message typing, random busy typing, or a
// choreography burst — owns the arms at any moment. Discipline is
// cooperative check-then-set within the logic tick; there is only one
// writer goroutine.
type Mode int

const (
	ModeNone Mode = iota
	ModeRandom
	ModeBurst
	ModeMessage
)

func (m Mode) String() string {
	switch m {
	case ModeRandom:
		return "random"
	case ModeBurst:
		return "burst"
	case ModeMessage:
		return "message"
	default:
		return "none"
	}
}
