// Package keywordextractor turns fetched HTML into searchable plain text and
// runs keyword rules against it.
package keywordextractor

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/fntelecomllc/studio-sub001/internal/config"
)

// KeywordExtractionResult holds the details of a single keyword match.
type KeywordExtractionResult struct {
	MatchedPattern string   `json:"matchedPattern"` // the pattern from the rule
	MatchedText    string   `json:"matchedText"`    // the actual text that matched
	Category       string   `json:"category,omitempty"`
	Contexts       []string `json:"contexts,omitempty"` // snippets of text around the match
}

// CleanHTMLToText parses HTML content and extracts clean, searchable text.
// Script, style and navigation chrome are skipped.
func CleanHTMLToText(htmlBody string) (string, error) {
	doc, err := html.Parse(strings.NewReader(htmlBody))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.TextNode {
			trimmedData := strings.TrimSpace(n.Data)
			if trimmedData != "" {
				sb.WriteString(trimmedData)
				sb.WriteString(" ")
			}
		} else if n.Type == html.ElementNode &&
			(n.Data == "script" || n.Data == "style" || n.Data == "noscript" || n.Data == "head" || n.Data == "title" || n.Data == "nav" || n.Data == "footer" || n.Data == "aside") {
			return
		} else if n.Type == html.ElementNode && n.Data == "br" {
			sb.WriteString(" ")
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}

		if n.Type == html.ElementNode {
			switch n.Data {
			case "p", "div", "h1", "h2", "h3", "h4", "h5", "h6", "li", "article", "section", "header":
				sb.WriteString(" ")
			}
		}
	}

	extract(doc)

	cleanedText := strings.Join(strings.Fields(sb.String()), " ")
	return cleanedText, nil
}

// ExtractKeywords extracts keywords from HTML content based on a set of rules.
func ExtractKeywords(htmlContent []byte, rules []config.KeywordRule) ([]KeywordExtractionResult, error) {
	results := []KeywordExtractionResult{}

	plainTextContent, err := CleanHTMLToText(string(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("failed to clean HTML content: %w", err)
	}

	if strings.TrimSpace(plainTextContent) == "" {
		return results, nil
	}

	for _, rule := range rules {
		var allMatches [][]int

		if strings.ToLower(rule.Type) == "regex" {
			if rule.CompiledRegex != nil {
				allMatches = rule.CompiledRegex.FindAllStringIndex(plainTextContent, -1)
			}
		} else if strings.ToLower(rule.Type) == "string" {
			searchPattern := rule.Pattern
			textContentToSearch := plainTextContent
			if !rule.CaseSensitive {
				searchPattern = strings.ToLower(searchPattern)
				textContentToSearch = strings.ToLower(textContentToSearch)
			}
			idx := 0
			for {
				foundIdx := strings.Index(textContentToSearch[idx:], searchPattern)
				if foundIdx == -1 {
					break
				}
				actualFoundIdx := idx + foundIdx
				allMatches = append(allMatches, []int{actualFoundIdx, actualFoundIdx + len(searchPattern)})
				idx = actualFoundIdx + len(searchPattern)
				if idx >= len(textContentToSearch) {
					break
				}
			}
		} else {
			continue
		}

		for _, matchIndices := range allMatches {
			start := matchIndices[0]
			end := matchIndices[1]
			matchedText := plainTextContent[start:end]

			var contexts []string
			if rule.ContextChars > 0 {
				contextStart := start - rule.ContextChars
				if contextStart < 0 {
					contextStart = 0
				}
				contextEnd := end + rule.ContextChars
				if contextEnd > len(plainTextContent) {
					contextEnd = len(plainTextContent)
				}
				contexts = append(contexts, plainTextContent[contextStart:contextEnd])
			}

			results = append(results, KeywordExtractionResult{
				MatchedPattern: rule.Pattern,
				MatchedText:    matchedText,
				Category:       rule.Category,
				Contexts:       contexts,
			})
		}
	}

	return results, nil
}
