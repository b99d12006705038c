package speech

import (
	"strings"

	"aquavoice/internal/ports"
)

// transcriptAggregator folds provider segments into the text of one pass.
// It is owned by a single pass goroutine.
type transcriptAggregator struct {
	finals     []string
	lastSpoken string
}

func newTranscriptAggregator() *transcriptAggregator {
	return &transcriptAggregator{}
}

func (a *transcriptAggregator) Add(segment ports.Segment) {
	text := strings.TrimSpace(segment.Text)
	if text == "" {
		return
	}
	a.lastSpoken = text
	if segment.IsFinal || segment.SpeechFinal {
		a.finals = append(a.finals, text)
	}
}

// Preview is the text shown while speech is ongoing: stable segments plus the current interim.
func (a *transcriptAggregator) Preview(interim string) string {
	joined := strings.Join(a.finals, " ")
	interim = strings.TrimSpace(interim)
	if interim == "" {
		return strings.TrimSpace(joined)
	}
	return strings.TrimSpace(joined + " " + interim)
}

// Raw is the final text of the pass. Stable segments win; the last spoken
// segment stands in when nothing was stable and is appended when it outgrew them.
func (a *transcriptAggregator) Raw() string {
	joined := strings.TrimSpace(strings.Join(a.finals, " "))
	switch {
	case joined == "":
		return a.lastSpoken
	case a.lastSpoken == "",
		strings.HasSuffix(joined, a.lastSpoken),
		len(a.lastSpoken) <= len(joined):
		return joined
	default:
		return joined + " " + a.lastSpoken
	}
}
