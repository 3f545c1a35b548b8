// Package classify turns free-text progress lines into typed stream events.
//
// Rules are evaluated in order and the first match wins; anything that matches
// no rule is a plain log line.
package classify

import (
	"regexp"
	"strings"

	"github.com/Avis2912/magnus/internal/event"
)

// Classifier maps a raw line to an event kind and display text.
type Classifier interface {
	Classify(line string) (event.Kind, string)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(line string) (event.Kind, string)

func (f ClassifierFunc) Classify(line string) (event.Kind, string) { return f(line) }

// Text is the default rule-based classifier.
var Text Classifier = ClassifierFunc(Classify)

var (
	timestampPrefix = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{3} \| \w+ +\| `)
	locationPrefix  = regexp.MustCompile(`^[\w.]+:\w+:\d+ - `)
	thoughtBody     = regexp.MustCompile(`✨ \w+'s thoughts: (.*)`)
	toolCompleted   = regexp.MustCompile(`Tool .* completed`)
	resultBody      = regexp.MustCompile(`(?s)Result: (.*)`)
)

const (
	thoughtMarker   = "✨"
	selectMarker    = "🛠"
	activateMarker  = "🔧"
	completedMarker = "🎯"
)

// StripPrefix removes a leading "timestamp | LEVEL |" header and a leading
// "module:function:line - " location.
func StripPrefix(line string) string {
	line = timestampPrefix.ReplaceAllString(line, "")
	return locationPrefix.ReplaceAllString(line, "")
}

// Classify never fails; unmatched input comes back as event.KindLog.
func Classify(line string) (event.Kind, string) {
	text := StripPrefix(line)
	lower := strings.ToLower(text)

	switch {
	case strings.Contains(text, thoughtMarker) || strings.Contains(lower, "thoughts:"):
		if m := thoughtBody.FindStringSubmatch(text); m != nil {
			return event.KindThink, m[1]
		}
		return event.KindThink, text
	case strings.Contains(text, selectMarker) || strings.Contains(lower, "selected tool"):
		return event.KindTool, text
	case strings.Contains(text, activateMarker) || strings.Contains(text, "Activating tool:"):
		return event.KindTool, text
	case strings.Contains(text, completedMarker) || toolCompleted.MatchString(text):
		if m := resultBody.FindStringSubmatch(text); m != nil {
			return event.KindAct, m[1]
		}
		return event.KindAct, text
	case strings.Contains(lower, "error") || strings.Contains(lower, "failed"):
		return event.KindError, text
	default:
		return event.KindLog, text
	}
}
