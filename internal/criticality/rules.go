package criticality

import (
	"strings"
	"unicode"

	ahocorasick "github.com/cloudflare/ahocorasick"

	"github.com/qrlbk/IntegrityOS/internal/features"
	"github.com/qrlbk/IntegrityOS/internal/storage/models"
	"github.com/qrlbk/IntegrityOS/pkg/config"
)

const ruleBasedVersion = "rules"

// Rules holds inclusive thresholds and keyword lists.
type Rules struct {
	HighParam1       float64
	HighParam2       float64
	MediumParam1     float64
	MediumParam2     float64
	CriticalKeywords []string
	MediumKeywords   []string
}

func DefaultRules() Rules {
	return Rules{
		HighParam1:       20,
		HighParam2:       50,
		MediumParam1:     10,
		MediumParam2:     20,
		CriticalKeywords: config.DefaultCriticalKeywords,
		MediumKeywords:   config.DefaultMediumKeywords,
	}
}

func RulesFromConfig(cfg config.CriticalityConfig) Rules {
	return Rules{
		HighParam1:       cfg.HighParam1,
		HighParam2:       cfg.HighParam2,
		MediumParam1:     cfg.MediumParam1,
		MediumParam2:     cfg.MediumParam2,
		CriticalKeywords: cfg.CriticalKeywords,
		MediumKeywords:   cfg.MediumKeywords,
	}
}

type RuleBased struct {
	rules    Rules
	matcher  *ahocorasick.Matcher
	keywords []string
	severity []models.Label
}

func NewRuleBased(rules Rules) *RuleBased {
	r := &RuleBased{rules: rules}

	bySeverity := make(map[string]models.Label)
	add := func(list []string, label models.Label) {
		for _, kw := range list {
			normalized := normalizeText(kw)
			if normalized == "" {
				continue
			}
			if prev, ok := bySeverity[normalized]; ok {
				bySeverity[normalized] = models.MaxLabel(prev, label)
				continue
			}
			bySeverity[normalized] = label
			r.keywords = append(r.keywords, normalized)
		}
	}
	add(rules.CriticalKeywords, models.LabelHigh)
	add(rules.MediumKeywords, models.LabelMedium)

	r.severity = make([]models.Label, len(r.keywords))
	for i, kw := range r.keywords {
		r.severity[i] = bySeverity[kw]
	}
	if len(r.keywords) > 0 {
		r.matcher = ahocorasick.NewStringMatcher(r.keywords)
	}
	return r
}

// KeywordLabel is the most severe label among keywords found in text.
func (r *RuleBased) KeywordLabel(text string) models.Label {
	label := models.LabelNormal
	if r.matcher == nil {
		return label
	}
	for _, hit := range r.matcher.Match([]byte(normalizeText(text))) {
		if hit < len(r.severity) {
			label = models.MaxLabel(label, r.severity[hit])
		}
	}
	return label
}

func (r *RuleBased) ParamLabel(param1, param2 float64) models.Label {
	switch {
	case param1 >= r.rules.HighParam1 || param2 >= r.rules.HighParam2:
		return models.LabelHigh
	case param1 >= r.rules.MediumParam1 || param2 >= r.rules.MediumParam2:
		return models.LabelMedium
	}
	return models.LabelNormal
}

func (r *RuleBased) Classify(f Features) (models.Label, error) {
	if !f.DefectFound {
		return models.LabelNormal, nil
	}
	return models.MaxLabel(r.KeywordLabel(f.Description), r.ParamLabel(f.Param1, f.Param2)), nil
}

func (r *RuleBased) Probabilities(Features) (Distribution, bool, error) {
	return Distribution{}, false, nil
}

func (r *RuleBased) Strategy() models.Strategy { return models.StrategyRuleBased }

func (r *RuleBased) Version() string { return ruleBasedVersion }

func (r *RuleBased) Encoder() features.Encoder { return nil }

// normalizeText lowercases and turns every run of non-alphanumerics into a
// single space.
func normalizeText(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(mapped), " ")
}
