package media

// Signal is an out-of-band pipeline control marker, carried alongside the
// packet/frame stream rather than inside it.
type Signal int

const (
	// SignalFlush marks a discontinuity (e.g. after a seek). Consumers
	// should drop buffered data and restart their timestamp epoch.
	SignalFlush Signal = iota + 1
	// SignalEos marks end of stream. Consumers should drain buffered data
	// and finalize.
	SignalEos
)

func (s Signal) String() string {
	switch s {
	case SignalFlush:
		return "flush"
	case SignalEos:
		return "eos"
	default:
		return "unknown"
	}
}
