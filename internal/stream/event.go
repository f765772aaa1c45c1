package stream

// Kind identifies the variant of a decoded stream event
type Kind int

const (
	KindContentDelta Kind = iota + 1
	KindStatus
	KindImage
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindContentDelta:
		return "content-delta"
	case KindStatus:
		return "status"
	case KindImage:
		return "image"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one typed record decoded from a response stream.
//
// Text holds the delta for content-delta, the replacement text for status
// and the message for error. URL and Prompt are only set for image events,
// Code only for error events.
type Event struct {
	Kind   Kind
	Text   string
	Model  string
	URL    string
	Prompt string
	Code   string
}
