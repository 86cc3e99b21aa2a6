// Package services contains core business logic
// Following Hexagonal Architecture: Services orchestrate domain logic using ports
package services

import (
	"math"
	"regexp"
	"strings"

	"omnidesk-triage/internal/core/domain"
)

// PatternRule is one weighted indicator in a classifier rule set.
type PatternRule struct {
	Pattern  *regexp.Regexp
	Category string
	Weight   float64
}

// OverrideRule is a high-precision phrasal pattern that short-circuits
// scoring and forces a response mode outright.
type OverrideRule struct {
	Pattern *regexp.Regexp
	Mode    domain.ResponseMode
}

// TopicCategory pairs a topic label with its keyword list. Categories are
// evaluated in declaration order; ties go to the earlier category.
type TopicCategory struct {
	Name     string
	Keywords []string
}

// overrideConfidence is reported whenever an explicit override phrase
// bypasses the weighted scoring.
const overrideConfidence = 0.95

// Default rule tables. Kept as data rather than branches so deployments can
// tune weights without touching dispatch logic.
var (
	defaultOverrides = []OverrideRule{
		{regexp.MustCompile(`(?i)\b(don'?t|do not)\s+(want|need|give me)\s+(the\s+)?(instructions|steps|guide)\b`), domain.ModeDirectData},
		{regexp.MustCompile(`(?i)\bjust\s+(give|show|tell)\s+me\s+(the\s+)?(data|number|amount|status|result)`), domain.ModeDirectData},
		{regexp.MustCompile(`(?i)\bskip\s+the\s+(steps|instructions|explanation)\b`), domain.ModeDirectData},
		{regexp.MustCompile(`(?i)\bhow\s+(do|can|should)\s+i\b`), domain.ModeInstructions},
		{regexp.MustCompile(`(?i)\bshow\s+me\s+the\s+steps\b`), domain.ModeInstructions},
		{regexp.MustCompile(`(?i)\bwalk\s+me\s+through\b`), domain.ModeInstructions},
		{regexp.MustCompile(`(?i)\bstep[\s-]by[\s-]step\b`), domain.ModeInstructions},
	}

	defaultDirectDataRules = []PatternRule{
		{regexp.MustCompile(`(?i)\bwhat('?s| is)\s+my\b`), "personal_query", 3},
		{regexp.MustCompile(`(?i)\bmy\s+(claim|payment|certificate|balance|account|policy)\b`), "personal_query", 2},
		{regexp.MustCompile(`(?i)\b(check|show|tell me)\s+(my|the)\b`), "lookup", 2},
		{regexp.MustCompile(`(?i)\bstatus\s+of\b`), "lookup", 2},
		{regexp.MustCompile(`(?i)\b(amount|balance|due date|deadline|reference number)\b`), "figure", 1.5},
		{regexp.MustCompile(`(?i)\bwhen\s+(is|was|will)\b`), "figure", 1},
		{regexp.MustCompile(`\b\d{6,}\b`), "identifier", 1},
	}

	defaultInstructionRules = []PatternRule{
		{regexp.MustCompile(`(?i)\bhow\s+(do|can|to|should)\b`), "howto", 3},
		{regexp.MustCompile(`(?i)\bwhat\s+(are\s+the\s+)?steps\b`), "howto", 3},
		{regexp.MustCompile(`(?i)\b(guide|tutorial|instructions|procedure|process)\b`), "procedural", 2},
		{regexp.MustCompile(`(?i)\b(submit|apply|register|renew|file|upload)\b`), "action", 1.5},
		{regexp.MustCompile(`(?i)\bwhere\s+(do|can|should)\s+i\b`), "howto", 2},
		{regexp.MustCompile(`(?i)\bexplain\b`), "procedural", 1},
		{regexp.MustCompile(`(?i)\?\s*$`), "question", 0.5},
	}

	defaultTopics = []TopicCategory{
		{"claims", []string{"claim", "claims", "reimbursement", "injury", "accident", "compensation"}},
		{"financial", []string{"payment", "payments", "pay", "invoice", "bill", "refund", "amount", "balance", "installment"}},
		{"certificates", []string{"certificate", "certificates", "document", "documents", "letter", "statement"}},
		{"account", []string{"account", "login", "password", "profile", "register", "registration"}},
		{"technical", []string{"error", "broken", "website", "app", "crash", "bug", "loading"}},
	}
)

// TopicGeneral is returned when no topic keyword matches.
const TopicGeneral = "general"

// Classifier scores incoming messages against weighted rule sets to decide
// response mode and topic. Pure: no side effects, safe for concurrent use.
type Classifier struct {
	overrides    []OverrideRule
	directRules  []PatternRule
	instructions []PatternRule
	topics       []TopicCategory
}

// NewClassifier creates a classifier with the default rule tables.
func NewClassifier() *Classifier {
	return &Classifier{
		overrides:    defaultOverrides,
		directRules:  defaultDirectDataRules,
		instructions: defaultInstructionRules,
		topics:       defaultTopics,
	}
}

// NewClassifierWithRules creates a classifier from externally supplied rule
// tables. Nil slices fall back to the defaults.
func NewClassifierWithRules(overrides []OverrideRule, direct, instruction []PatternRule, topics []TopicCategory) *Classifier {
	c := NewClassifier()
	if overrides != nil {
		c.overrides = overrides
	}
	if direct != nil {
		c.directRules = direct
	}
	if instruction != nil {
		c.instructions = instruction
	}
	if topics != nil {
		c.topics = topics
	}
	return c
}

// Classify decides the response mode and topic for a message.
//
// Override phrases win outright with confidence 0.95. Otherwise the two rule
// sets are scored independently; zero total defaults to instructions mode at
// confidence 0.5, a tie yields mixed mode at 0.5, and a clear winner gets
// confidence 0.6 plus up to 0.35 for score separation, capped at 0.95.
func (c *Classifier) Classify(text string) domain.Classification {
	topic := c.detectTopic(text)

	for _, o := range c.overrides {
		if o.Pattern.MatchString(text) {
			return domain.Classification{
				Mode:             o.Mode,
				Confidence:       overrideConfidence,
				Topic:            topic,
				OverrideDetected: true,
			}
		}
	}

	directScore := scoreRules(c.directRules, text)
	instructionScore := scoreRules(c.instructions, text)
	total := directScore + instructionScore

	if total == 0 {
		// Documented default bias: no signal reads as a guidance request.
		return domain.Classification{
			Mode:       domain.ModeInstructions,
			Confidence: 0.5,
			Topic:      topic,
		}
	}

	if directScore == instructionScore {
		return domain.Classification{
			Mode:       domain.ModeMixed,
			Confidence: 0.5,
			Topic:      topic,
		}
	}

	mode := domain.ModeDirectData
	if instructionScore > directScore {
		mode = domain.ModeInstructions
	}

	separation := math.Abs(directScore-instructionScore) / math.Max(total, 1)
	confidence := math.Min(overrideConfidence, 0.6+separation*0.35)

	return domain.Classification{
		Mode:       mode,
		Confidence: confidence,
		Topic:      topic,
	}
}

// scoreRules sums weight * matchCount over every rule in the set.
func scoreRules(rules []PatternRule, text string) float64 {
	var score float64
	for _, r := range rules {
		if n := len(r.Pattern.FindAllStringIndex(text, -1)); n > 0 {
			score += r.Weight * float64(n)
		}
	}
	return score
}

// detectTopic runs the independent keyword classifier: argmax of per-category
// keyword match counts, declaration order breaking ties, "general" when
// nothing matches.
func (c *Classifier) detectTopic(text string) string {
	lower := strings.ToLower(text)

	best := TopicGeneral
	bestCount := 0
	for _, cat := range c.topics {
		count := 0
		for _, kw := range cat.Keywords {
			count += countWord(lower, kw)
		}
		if count > bestCount {
			bestCount = count
			best = cat.Name
		}
	}
	return best
}

// countWord counts whole-word occurrences of kw in lowercased text.
func countWord(lower, kw string) int {
	count := 0
	idx := 0
	for {
		i := strings.Index(lower[idx:], kw)
		if i < 0 {
			return count
		}
		start := idx + i
		end := start + len(kw)
		if isWordBoundary(lower, start-1) && isWordBoundary(lower, end) {
			count++
		}
		idx = end
	}
}

func isWordBoundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	ch := s[i]
	return !(ch >= 'a' && ch <= 'z' || ch >= '0' && ch <= '9')
}
