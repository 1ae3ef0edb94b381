// Package marker interprets the structured tokens agents embed in replies:
// loop completion markers and the <INFO>...</INFO> classification tag.
package marker

import (
	"regexp"
	"strings"
)

// Marker is a completion token that ends a critique loop.
type Marker string

const (
	// Finished ends the review loop.
	Finished Marker = "Finished"
	// NoErrors ends the test loop.
	NoErrors Marker = "No errors"
)

// Forms returns the accepted spellings of m: exact, and with one leading
// space inside the tag.
func (m Marker) Forms() []string {
	return []string{
		"<INFO>" + string(m) + "</INFO>",
		"<INFO> " + string(m) + "</INFO>",
	}
}

// String returns the canonical spelling.
func (m Marker) String() string {
	return "<INFO>" + string(m) + "</INFO>"
}

// In reports whether text contains m. Matching is case-sensitive.
func (m Marker) In(text string) bool {
	for _, form := range m.Forms() {
		if strings.Contains(text, form) {
			return true
		}
	}
	return false
}

// VerdictKind classifies a critic reply.
type VerdictKind int

const (
	// Continue means the critic asked for changes.
	Continue VerdictKind = iota
	// Completed means the critic emitted the completion marker.
	Completed
	// Unparseable means the reply was a failure and carries no verdict.
	Unparseable
)

func (k VerdictKind) String() string {
	switch k {
	case Continue:
		return "continue"
	case Completed:
		return "completed"
	case Unparseable:
		return "unparseable"
	default:
		return "unknown"
	}
}

// Verdict is the interpreted outcome of one critic reply.
type Verdict struct {
	Kind VerdictKind
	// Feedback is the critic text to hand to the fixer. Set for Continue.
	Feedback string
	// Raw is the reply as received.
	Raw string
}

// Judge interprets a critic reply against m. A failed reply (ok == false)
// is never a completion, even if its text happens to contain the marker.
func Judge(text string, ok bool, m Marker) Verdict {
	switch {
	case !ok:
		return Verdict{Kind: Unparseable, Raw: text}
	case m.In(text):
		return Verdict{Kind: Completed, Raw: text}
	default:
		return Verdict{Kind: Continue, Feedback: text, Raw: text}
	}
}

var infoTag = regexp.MustCompile(`(?i)<INFO>(.*?)</INFO>`)

// Tag returns the trimmed content of the first <INFO>...</INFO> span on a
// single line. Empty tags are reported as absent.
func Tag(text string) (string, bool) {
	m := infoTag.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	value := strings.TrimSpace(m[1])
	return value, value != ""
}

type keywordRule struct {
	keywords []string
	value    string
}

func classify(text string, rules []keywordRule, fallback string) string {
	if v, ok := Tag(text); ok {
		return v
	}
	lower := strings.ToLower(text)
	for _, rule := range rules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.value
			}
		}
	}
	return fallback
}

// Product modalities.
const (
	ModalityWebsite     = "Website"
	ModalityApplication = "Application"
	ModalityGame        = "Game"
	ModalityCLI         = "CLI Tool"
)

var modalityRules = []keywordRule{
	{[]string{"website", "web"}, ModalityWebsite},
	{[]string{"application", "app"}, ModalityApplication},
	{[]string{"game"}, ModalityGame},
	{[]string{"cli", "command"}, ModalityCLI},
}

// Modality extracts the product modality from a CPO reply. Keyword matching
// is substring based, so "webapp" is a Website and "happy" an Application.
func Modality(text string) string {
	return classify(text, modalityRules, ModalityApplication)
}

// Implementation languages.
const (
	LanguagePython     = "Python"
	LanguageJavaScript = "JavaScript"
	LanguageJava       = "Java"
	LanguageCPP        = "C++"
)

var languageRules = []keywordRule{
	{[]string{"python"}, LanguagePython},
	{[]string{"javascript", "js"}, LanguageJavaScript},
	{[]string{"java"}, LanguageJava},
	{[]string{"c++", "cpp"}, LanguageCPP},
}

// Language extracts the implementation language from a CTO reply.
func Language(text string) string {
	return classify(text, languageRules, LanguagePython)
}
