package stream

import (
	"fmt"
	"strings"

	"github.com/Rrens/chat-gateway/internal/domain"
)

// FallbackImageModel is reported for image replies that name no model
const FallbackImageModel = "dall-e-3"

// Reducer folds events into a single draft reply, strictly in arrival order
type Reducer struct {
	draft   domain.Draft
	content strings.Builder
}

// NewReducer starts from draft, normally an empty one from domain.NewDraft
func NewReducer(draft domain.Draft) *Reducer {
	r := &Reducer{draft: draft}
	r.content.WriteString(draft.Content)
	return r
}

// Apply folds one event into the draft.
// Error events and image events without a URL end the fold with an error.
func (r *Reducer) Apply(ev Event) error {
	switch ev.Kind {
	case KindContentDelta:
		r.content.WriteString(ev.Text)
		if ev.Model != "" {
			r.draft.Model = ev.Model
		}
	case KindStatus:
		r.content.Reset()
		r.content.WriteString(ev.Text)
		if ev.Model != "" {
			r.draft.Model = ev.Model
		}
	case KindImage:
		if ev.URL == "" {
			return domain.ErrImageMissing
		}
		r.content.Reset()
		r.content.WriteString(ImageMarkdown(ev.URL, ev.Prompt))
		r.draft.Model = ev.Model
		if r.draft.Model == "" {
			r.draft.Model = FallbackImageModel
		}
	case KindError:
		return &domain.StreamDecodeError{Message: ev.Text, Code: ev.Code}
	default:
		return fmt.Errorf("unsupported event kind %d", ev.Kind)
	}
	return nil
}

// Draft returns a snapshot of the draft built so far
func (r *Reducer) Draft() domain.Draft {
	d := r.draft
	d.Content = r.content.String()
	return d
}

// ImageMarkdown renders a generated image reference, with its prompt when known
func ImageMarkdown(url, prompt string) string {
	s := fmt.Sprintf("![Generated Image](%s)", url)
	if prompt != "" {
		s += "\n\n**Prompt:** " + prompt
	}
	return s
}
