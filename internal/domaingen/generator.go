// Package domaingen implements deterministic, offset-addressable domain name
// enumeration. Every offset in [0, Total()) maps to exactly one domain for a
// given configuration, so generation can stop and resume at any offset
// without emitting duplicates.
package domaingen

import (
	"crypto/sha256"
	"fmt"
	"math"
	"strings"
)

// PatternType controls where the variable section sits relative to the
// constant part of the label.
type PatternType string

const (
	// PatternPrefix places the constant first: {constant}{variable}.{tld}
	PatternPrefix PatternType = "prefix"
	// PatternSuffix places the constant last: {variable}{constant}.{tld}
	PatternSuffix PatternType = "suffix"
	// PatternBoth places variable sections of VariableLength on each side:
	// {variable}{constant}{variable}.{tld}
	PatternBoth PatternType = "both"
)

// Config describes one enumeration space. Two configs with the same
// normalized content share a Hash and therefore share a persisted offset
// cursor.
type Config struct {
	PatternType    PatternType `json:"patternType"`
	ConstantPart   string      `json:"constantPart"`
	VariableLength int         `json:"variableLength"`
	CharacterSet   string      `json:"characterSet"`
	TLD            string      `json:"tld"`
}

// Generator enumerates the combination space of one Config.
type Generator struct {
	cfg     Config
	charset []rune
	total   int64
	hash    string
}

// New validates cfg and prepares a Generator. Configuration problems (bad
// pattern type, missing TLD, negative length) are permanent errors; an empty
// character set or zero variable length is legal and yields an immediately
// exhausted space.
func New(cfg Config) (*Generator, error) {
	switch cfg.PatternType {
	case PatternPrefix, PatternSuffix, PatternBoth:
	default:
		return nil, fmt.Errorf("domaingen: unknown pattern type %q", cfg.PatternType)
	}
	if cfg.VariableLength < 0 {
		return nil, fmt.Errorf("domaingen: negative variable length %d", cfg.VariableLength)
	}
	cfg.TLD = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(cfg.TLD)), ".")
	if cfg.TLD == "" {
		return nil, fmt.Errorf("domaingen: TLD is required")
	}
	cfg.ConstantPart = strings.ToLower(strings.TrimSpace(cfg.ConstantPart))
	cfg.CharacterSet = dedupeCharset(strings.ToLower(cfg.CharacterSet))

	g := &Generator{cfg: cfg, charset: []rune(cfg.CharacterSet)}
	g.total = totalCombinations(len(g.charset), g.variableDigits())
	g.hash = configHash(cfg)
	return g, nil
}

// variableDigits is the number of charset-indexed positions in a domain.
func (g *Generator) variableDigits() int {
	if g.cfg.PatternType == PatternBoth {
		return g.cfg.VariableLength * 2
	}
	return g.cfg.VariableLength
}

// Total returns the size of the combination space, saturated at MaxInt64.
func (g *Generator) Total() int64 { return g.total }

// Hash returns the content-addressed identity of this configuration. It is
// the key under which the generation cursor is persisted.
func (g *Generator) Hash() string { return g.hash }

// DomainAt returns the domain at the given offset. Offsets outside
// [0, Total()) are an error.
func (g *Generator) DomainAt(offset int64) (string, error) {
	if offset < 0 || offset >= g.total {
		return "", fmt.Errorf("domaingen: offset %d outside combination space of %d", offset, g.total)
	}
	digits := g.variableDigits()
	variable := make([]rune, digits)
	n := offset
	base := int64(len(g.charset))
	for i := digits - 1; i >= 0; i-- {
		variable[i] = g.charset[n%base]
		n /= base
	}

	var label string
	switch g.cfg.PatternType {
	case PatternPrefix:
		label = g.cfg.ConstantPart + string(variable)
	case PatternSuffix:
		label = string(variable) + g.cfg.ConstantPart
	case PatternBoth:
		half := g.cfg.VariableLength
		label = string(variable[:half]) + g.cfg.ConstantPart + string(variable[half:])
	}
	return label + "." + g.cfg.TLD, nil
}

// Generate produces up to count domains starting at offset. It returns the
// batch, the offset to resume from, and whether the combination space is now
// exhausted. Asking for more domains than remain caps the batch silently.
func (g *Generator) Generate(offset int64, count int) (domains []string, newOffset int64, exhausted bool, err error) {
	if offset < 0 {
		return nil, offset, false, fmt.Errorf("domaingen: negative offset %d", offset)
	}
	if offset >= g.total {
		return nil, offset, true, nil
	}
	remaining := g.total - offset
	n := int64(count)
	if n > remaining {
		n = remaining
	}
	domains = make([]string, 0, n)
	for i := int64(0); i < n; i++ {
		d, derr := g.DomainAt(offset + i)
		if derr != nil {
			return nil, offset, false, derr
		}
		domains = append(domains, d)
	}
	newOffset = offset + n
	return domains, newOffset, newOffset >= g.total, nil
}

// totalCombinations computes base^digits with saturation at MaxInt64 so huge
// spaces stay representable instead of wrapping.
func totalCombinations(base, digits int) int64 {
	if base == 0 || digits == 0 {
		return 0
	}
	total := int64(1)
	for i := 0; i < digits; i++ {
		if total > math.MaxInt64/int64(base) {
			return math.MaxInt64
		}
		total *= int64(base)
	}
	return total
}

// dedupeCharset removes repeated runes preserving first-seen order, so the
// offset→domain mapping is stable regardless of how the charset was typed.
func dedupeCharset(s string) string {
	seen := make(map[rune]struct{}, len(s))
	var sb strings.Builder
	for _, r := range s {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		sb.WriteRune(r)
	}
	return sb.String()
}

// configHash derives the content-addressed key for a normalized config.
func configHash(cfg Config) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%s|%s", cfg.PatternType, cfg.ConstantPart, cfg.VariableLength, cfg.CharacterSet, cfg.TLD)
	return fmt.Sprintf("%x", h.Sum(nil))
}
