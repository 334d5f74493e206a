package extraction

import (
	"net"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"threatlens-lab/internal/domain/models"
	"threatlens-lab/pkg/logger"
)

// Extractor pulls typed entity mentions out of document text
type Extractor interface {
	Extract(title, content string) []models.Mention
	Method() models.ExtractionMethod
}

// PatternExtractor extracts mentions with compiled regex patterns plus
// a keyword list for known actor names
type PatternExtractor struct {
	patterns      map[models.IndicatorType]*regexp.Regexp
	technique     *regexp.Regexp
	actorKeywords map[string]float64
	logger        *logger.Logger
}

// NewPatternExtractor creates a pattern-based extractor
func NewPatternExtractor(log *logger.Logger) *PatternExtractor {
	pe := &PatternExtractor{
		patterns:      make(map[models.IndicatorType]*regexp.Regexp),
		actorKeywords: make(map[string]float64),
		logger:        log.WithComponent("pattern-extractor"),
	}

	pe.compilePatterns()
	pe.loadActorKeywords()

	return pe
}

// Method reports the extraction method recorded on runs
func (pe *PatternExtractor) Method() models.ExtractionMethod {
	return models.ExtractionMethodPattern
}

func (pe *PatternExtractor) compilePatterns() {
	pe.patterns[models.IndicatorTypeIP] = regexp.MustCompile(
		`\b(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`,
	)

	pe.patterns[models.IndicatorTypeDomain] = regexp.MustCompile(
		`\b(?:[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+(?:[a-zA-Z]{2,63})\b`,
	)

	pe.patterns[models.IndicatorTypeURL] = regexp.MustCompile(
		`(?i)\b(?:https?://|hxxps?://)[^\s<>"'\)]+`,
	)

	pe.patterns[models.IndicatorTypeEmail] = regexp.MustCompile(
		`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`,
	)

	// MD5, SHA1 and SHA256 in one alternation
	pe.patterns[models.IndicatorTypeHash] = regexp.MustCompile(
		`\b[a-fA-F0-9]{32}\b|\b[a-fA-F0-9]{40}\b|\b[a-fA-F0-9]{64}\b`,
	)

	pe.patterns[models.IndicatorTypeCVE] = regexp.MustCompile(
		`\bCVE-\d{4}-\d{4,7}\b`,
	)

	// MITRE ATT&CK technique, with optional sub-technique suffix
	pe.technique = regexp.MustCompile(`\bT\d{4}(?:\.\d{3})?\b`)
}

func (pe *PatternExtractor) loadActorKeywords() {
	pe.actorKeywords = map[string]float64{
		"apt28":           1.0,
		"apt29":           1.0,
		"apt32":           1.0,
		"apt33":           1.0,
		"apt34":           1.0,
		"apt35":           1.0,
		"apt38":           1.0,
		"apt41":           1.0,
		"lazarus":         1.0,
		"kimsuky":         1.0,
		"sandworm":        1.0,
		"cozy bear":       1.0,
		"fancy bear":      1.0,
		"turla":           1.0,
		"gamaredon":       1.0,
		"hafnium":         1.0,
		"nobelium":        1.0,
		"darkhotel":       1.0,
		"charming kitten": 1.0,
		"winnti":          1.0,
		"mustang panda":   1.0,
		"naikon":          1.0,
		"sidewinder":      1.0,
		"patchwork":       1.0,
		"oceanlotus":      1.0,
		"fin7":            1.0,
		"fin8":            1.0,
		"carbanak":        1.0,
		"wizard spider":   1.0,
		"evil corp":       1.0,
		"ta505":           1.0,
		"ta551":           1.0,
		"molerats":        1.0,
		"darkhydrus":      1.0,
		"oilrig":          1.0,
		"helix kitten":    1.0,
		"muddy water":     1.0,
		"magic hound":     1.0,
		"equation group":  1.0,
		"scarab":          0.8,
		"tick":            0.8,
	}
}

// Extract scans title and content for mentions. Duplicate values are
// reported once; obviously invalid pattern matches are dropped here so
// downstream stages only see plausible mentions.
func (pe *PatternExtractor) Extract(title, content string) []models.Mention {
	text := title + "\n" + content
	refanged := Refang(text)

	seen := make(map[string]bool)
	var mentions []models.Mention

	for iocType, pattern := range pe.patterns {
		for _, loc := range pattern.FindAllStringIndex(refanged, -1) {
			match := refanged[loc[0]:loc[1]]
			value, confidence := pe.validateIndicator(match, iocType)
			if confidence == 0 {
				continue
			}
			key := "indicator:" + strings.ToLower(value)
			if seen[key] {
				continue
			}
			seen[key] = true
			mentions = append(mentions, models.Mention{
				Kind:       models.EntityKindIndicator,
				RawValue:   value,
				Confidence: confidence,
				Snippet:    snippetAround(refanged, loc[0], loc[1]),
			})
		}
	}

	for _, loc := range pe.technique.FindAllStringIndex(text, -1) {
		match := text[loc[0]:loc[1]]
		key := "technique:" + strings.ToUpper(match)
		if seen[key] {
			continue
		}
		seen[key] = true
		mentions = append(mentions, models.Mention{
			Kind:       models.EntityKindTechnique,
			RawValue:   match,
			Confidence: 1.0,
			Snippet:    snippetAround(text, loc[0], loc[1]),
		})
	}

	lower := strings.ToLower(text)
	for keyword, confidence := range pe.actorKeywords {
		idx := strings.Index(lower, keyword)
		if idx < 0 {
			continue
		}
		key := "actor:" + keyword
		if seen[key] {
			continue
		}
		seen[key] = true
		mentions = append(mentions, models.Mention{
			Kind:       models.EntityKindActor,
			RawValue:   keyword,
			Confidence: confidence,
			Snippet:    snippetAround(lower, idx, idx+len(keyword)),
		})
	}

	return mentions
}

// snippetRadius bounds the context captured on each side of a match
const snippetRadius = 60

// snippetAround returns the text surrounding [start, end), cut on rune
// boundaries with whitespace collapsed to single spaces
func snippetAround(text string, start, end int) string {
	lo := start - snippetRadius
	if lo < 0 {
		lo = 0
	}
	hi := end + snippetRadius
	if hi > len(text) {
		hi = len(text)
	}
	for lo > 0 && !utf8.RuneStart(text[lo]) {
		lo--
	}
	for hi < len(text) && !utf8.RuneStart(text[hi]) {
		hi++
	}
	return strings.Join(strings.Fields(text[lo:hi]), " ")
}

// validateIndicator weeds out pattern matches that are not real
// indicators and assigns a per-type confidence
func (pe *PatternExtractor) validateIndicator(value string, iocType models.IndicatorType) (string, float64) {
	switch iocType {
	case models.IndicatorTypeIP:
		ip := net.ParseIP(value)
		if ip == nil {
			return "", 0
		}
		if ip.IsPrivate() || ip.IsLoopback() {
			return value, 0.3
		}
		return value, 0.95
	case models.IndicatorTypeDomain:
		return pe.validateDomain(value)
	case models.IndicatorTypeURL:
		return value, 0.9
	case models.IndicatorTypeEmail:
		if _, err := mail.ParseAddress(value); err != nil {
			return "", 0
		}
		return value, 0.85
	case models.IndicatorTypeHash:
		switch len(value) {
		case 32:
			return value, 0.9
		case 40:
			return value, 0.92
		case 64:
			return value, 0.95
		}
		return "", 0
	case models.IndicatorTypeCVE:
		return value, 1.0
	}
	return "", 0
}

var versionNumber = regexp.MustCompile(`^\d+\.\d+(\.\d+)*$`)

func (pe *PatternExtractor) validateDomain(value string) (string, float64) {
	lower := strings.ToLower(value)

	// Common false positives: file names and placeholder domains
	skip := []string{
		"example.com", "test.com", "localhost",
		".exe", ".dll", ".txt", ".pdf", ".doc",
	}
	for _, s := range skip {
		if strings.Contains(lower, s) {
			return "", 0
		}
	}

	if versionNumber.MatchString(lower) {
		return "", 0
	}

	parts := strings.Split(lower, ".")
	if len(parts) < 2 {
		return "", 0
	}
	tld := parts[len(parts)-1]
	if len(tld) < 2 || len(tld) > 10 {
		return "", 0
	}

	return value, 0.85
}

// Refang undoes the defanging conventions threat reports use so
// patterns match the live form
func Refang(text string) string {
	text = strings.ReplaceAll(text, "hxxp", "http")
	text = strings.ReplaceAll(text, "hXXp", "http")
	text = strings.ReplaceAll(text, "[.]", ".")
	text = strings.ReplaceAll(text, "(.)", ".")
	text = strings.ReplaceAll(text, "[:]", ":")
	text = strings.ReplaceAll(text, "[@]", "@")
	return text
}
