package agent

import (
	"regexp"
	"strings"
	"time"
)

// controlPhrase matches text where the model narrates a tool call instead of making it.
var controlPhrase = regexp.MustCompile(`call [\p{L}\p{N}_]+ tool`)

// IsControlPhrase reports whether text is an irregular handover from the model.
func IsControlPhrase(text string) bool {
	return controlPhrase.MatchString(text)
}

// Pacer spaces out the parts of a reply so they arrive at a human typing pace.
type Pacer struct {
	WordsPerMinute  int
	FirstPartCredit time.Duration
	Spacing         time.Duration
}

func DefaultPacer() Pacer {
	return Pacer{WordsPerMinute: 100, FirstPartCredit: 30 * time.Second, Spacing: 750 * time.Millisecond}
}

// TypingDelay is the time needed to type text. The first part of a reply is
// credited FirstPartCredit for upstream latency. Never negative.
func (p Pacer) TypingDelay(text string, index int) time.Duration {
	wpm := p.WordsPerMinute
	if wpm <= 0 {
		wpm = 100
	}
	words := len(strings.Fields(text))
	d := time.Duration(float64(words) / float64(wpm) * float64(time.Minute))
	if index == 0 {
		d -= p.FirstPartCredit
	}
	if d < 0 {
		return 0
	}
	return d
}

// Delay is the wait before releasing a part. The typing delay applies only when
// enabled is set; every other part gets the flat Spacing.
func (p Pacer) Delay(text string, index int, enabled bool) time.Duration {
	if enabled {
		return p.TypingDelay(text, index)
	}
	return p.Spacing
}
