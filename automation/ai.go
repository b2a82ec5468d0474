package automation

import (
	"context"
	"strings"

	"github.com/deskflow/automation/internal/logger"
)

// Analyzer is the AI analysis port. Implementations classify a message
// without mutating it; the engine holds no provider-specific logic.
type Analyzer interface {
	Analyze(ctx context.Context, msg Message) (*Analysis, error)
}

// DefaultAnalysis is the neutral, low-confidence classification used
// when the provider fails or times out. The engine treats it as a
// normal (if uninformative) result.
func DefaultAnalysis() *Analysis {
	return &Analysis{
		Intent:     "other",
		Sentiment:  "neutral",
		Urgency:    "medium",
		Category:   "general",
		Confidence: 0,
	}
}

// SafeAnalyze calls the analyzer and degrades any failure (error, nil
// result, panic) to DefaultAnalysis. Nothing escapes this call.
func SafeAnalyze(ctx context.Context, analyzer Analyzer, msg Message) (analysis *Analysis) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.AIFallback()
			logger.Error("ai analyzer panicked", "panic", rec)
			analysis = DefaultAnalysis()
		}
	}()

	result, err := analyzer.Analyze(ctx, msg)
	if err != nil || result == nil {
		logger.AIFallback()
		if err != nil {
			logger.Warn("ai analysis failed, using neutral default", "error", err.Error())
		}
		return DefaultAnalysis()
	}
	return result
}

// HeuristicAnalyzer is a provider-free Analyzer built on keyword
// matching. It is the default wiring when no external AI provider is
// configured, and keeps the analysis contract exercisable in tests.
type HeuristicAnalyzer struct{}

func NewHeuristicAnalyzer() *HeuristicAnalyzer { return &HeuristicAnalyzer{} }

// Ordered so the first matching intent wins deterministically.
var intentKeywords = []struct {
	intent string
	words  []string
}{
	{"complaint", []string{"complaint", "unacceptable", "terrible", "refund", "reclama", "péssimo"}},
	{"question", []string{"how do i", "how can", "what is", "can you", "como", "?"}},
	{"request", []string{"please", "need", "preciso", "favor", "request"}},
}

var urgentKeywords = []string{"urgent", "urgente", "asap", "immediately", "emergency", "down"}

var negativeKeywords = []string{"angry", "terrible", "worst", "unacceptable", "frustrated", "péssimo"}

// Analyze never fails; confidence reflects how many signals fired.
func (a *HeuristicAnalyzer) Analyze(_ context.Context, msg Message) (*Analysis, error) {
	text := strings.ToLower(msg.Subject + " " + msg.Content)
	result := DefaultAnalysis()

	signals := 0
intents:
	for _, group := range intentKeywords {
		for _, w := range group.words {
			if strings.Contains(text, w) {
				result.Intent = group.intent
				result.Keywords = append(result.Keywords, w)
				signals++
				break intents
			}
		}
	}

	for _, w := range urgentKeywords {
		if strings.Contains(text, w) {
			result.Urgency = "high"
			result.RequiresHumanAttention = true
			result.Keywords = append(result.Keywords, w)
			signals++
			break
		}
	}

	for _, w := range negativeKeywords {
		if strings.Contains(text, w) {
			result.Sentiment = "negative"
			signals++
			break
		}
	}

	if signals > 0 {
		result.Confidence = 0.3 + 0.15*float64(signals)
		if result.Confidence > 0.75 {
			result.Confidence = 0.75
		}
	}
	return result, nil
}
