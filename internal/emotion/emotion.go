// Package emotion maps utterance text to a discrete emotion label.
//
// Classify is a pure rule engine: an inline bracket tag such as [happy]
// wins outright, otherwise lexical markers, punctuation and emoji are scored
// per label. A Classifier can additionally consult a ModelAnalyzer when the
// rule result is weak, while still returning the rule result for debugging.
package emotion

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Label is an emotion label.
type Label string

const (
	Neutral   Label = "neutral"
	Happy     Label = "happy"
	Sad       Label = "sad"
	Excited   Label = "excited"
	Surprised Label = "surprised"
	Angry     Label = "angry"
	Thinking  Label = "thinking"
)

// Labels lists every label in scoring order.
var Labels = []Label{Neutral, Happy, Sad, Excited, Surprised, Angry, Thinking}

// Source records which stage produced a Result.
type Source string

const (
	SourceRule  Source = "rule"
	SourceTag   Source = "tag"
	SourceModel Source = "model"
)

// Result is the outcome of classifying one utterance.
type Result struct {
	Label     Label   `json:"label"`
	Intensity float64 `json:"intensity"`
	Source    Source  `json:"source"`
	Secondary Label   `json:"secondary,omitempty"`
	RawText   string  `json:"raw_text,omitempty"`
}

const (
	keywordWeight     = 0.3
	multiBangWeight   = 0.3
	ellipsisWeight    = 0.2
	bangDensityWeight = 0.2
	bangDensity       = 0.1
)

var tagPattern = regexp.MustCompile(`\[(\w+)\]\s*`)

// keywords are matched as substrings of the lower-cased text; each hit adds
// keywordWeight to its label once.
var keywords = map[Label][]string{
	Happy:     {"嬉しい", "楽しい", "やった", "！", "♪", "😊", "😄", "笑", "haha", "yay", "glad", "happy"},
	Sad:       {"悲しい", "寂しい", "辛い", "泣", "😢", "😭", "...", "sad", "sorry", "miss you"},
	Excited:   {"すごい", "やばい", "マジ", "！！", "！？", "🔥", "✨", "っす！", "amazing", "awesome", "wow"},
	Surprised: {"え？", "えっ", "びっくり", "驚", "!?", "？！", "😮", "😲", "no way", "what?"},
	Angry:     {"怒", "ムカ", "許さ", "💢", "😠", "angry", "furious", "hate"},
	Thinking:  {"うーん", "かな？", "なるほど", "🤔", "hmm", "i wonder", "let me think"},
}

// ParseLabel returns the label named by s, case-insensitively.
func ParseLabel(s string) (Label, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, label := range Labels {
		if string(label) == s {
			return label, true
		}
	}
	return "", false
}

// StripTags removes every bracket tag from text.
func StripTags(text string) string {
	return strings.TrimSpace(tagPattern.ReplaceAllString(text, ""))
}

// Classify executes the classify function.
func Classify(text string) Result {
	raw := StripTags(text)
	if strings.TrimSpace(text) == "" {
		return Result{Label: Neutral, Intensity: 0, Source: SourceRule}
	}

	for _, match := range tagPattern.FindAllStringSubmatch(text, -1) {
		if label, ok := ParseLabel(match[1]); ok {
			return Result{Label: label, Intensity: 1.0, Source: SourceTag, RawText: raw}
		}
	}

	scores := score(raw)
	primary, secondary, top := rank(scores)
	if primary == Neutral {
		return Result{Label: Neutral, Intensity: 0, Source: SourceRule, RawText: raw}
	}
	return Result{
		Label:     primary,
		Intensity: min(top, 1.0),
		Source:    SourceRule,
		Secondary: secondary,
		RawText:   raw,
	}
}

func score(text string) map[Label]float64 {
	lower := strings.ToLower(text)
	scores := make(map[Label]float64, len(Labels))
	for label, words := range keywords {
		for _, word := range words {
			if strings.Contains(lower, word) {
				scores[label] += keywordWeight
			}
		}
	}
	if hasLaughSuffix(lower) {
		scores[Happy] += keywordWeight
	}

	bangs := strings.Count(text, "！") + strings.Count(text, "!")
	if bangs >= 2 {
		scores[Excited] += multiBangWeight
	}
	if runes := utf8.RuneCountInString(text); runes > 0 && float64(bangs)/float64(runes) > bangDensity {
		scores[Excited] += bangDensityWeight
	}
	if strings.Contains(text, "...") || strings.Contains(text, "…") {
		scores[Sad] += ellipsisWeight
	}
	return scores
}

// hasLaughSuffix reports a trailing run of w after non-latin text, as in
// "面白いww".
func hasLaughSuffix(text string) bool {
	trimmed := strings.TrimRight(text, "w")
	if trimmed == text || trimmed == "" {
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(trimmed)
	return last >= utf8.RuneSelf
}

// rank picks the best label. A tie for the top score, or no score at all,
// yields Neutral.
func rank(scores map[Label]float64) (primary Label, secondary Label, top float64) {
	primary = Neutral
	var second float64
	tied := false
	for _, label := range Labels {
		s := scores[label]
		switch {
		case s > top:
			secondary, second = primary, top
			primary, top = label, s
			tied = false
		case s == top && s > 0:
			tied = true
		case s > second:
			secondary, second = label, s
		}
	}
	if top <= 0 || tied {
		return Neutral, "", top
	}
	if second <= 0 || secondary == Neutral {
		secondary = ""
	}
	return primary, secondary, top
}
