package agreements

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"gymbot-backend/lib/scrapers/clubos/core"
	"gymbot-backend/lib/textutil"

	"github.com/PuerkitoBio/goquery"
)

// ids are captured with \d+ so that longer numbers (timestamps, phone numbers)
// are rejected by ValidAgreementId instead of being truncated
var textExtractors = []*regexp.Regexp{
	regexp.MustCompile(`agreement(?:Id|ID)\s*[:=]\s*['"]?(\d+)`),
	regexp.MustCompile(`/api/agreements/package_agreements/(?:V2/)?(\d+)`),
	regexp.MustCompile(`/action/Agreement[^\d\s"'<>]*(\d+)`),
}

// ExtractFromDocument collects agreement id candidates from an HTML or script
// document: id assignments, REST paths, agreement action links, data attributes
// and hidden inputs.
func ExtractFromDocument(body []byte) ([]string, error) {
	text := string(body)

	var candidates []string
	for _, regex := range textExtractors {
		for _, groups := range regex.FindAllStringSubmatch(text, -1) {
			candidates = append(candidates, groups[1])
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(body))
	if err != nil {
		return candidates, err
	}
	doc.Find("[data-agreement-id]").Each(func(_ int, s *goquery.Selection) {
		candidates = append(candidates, strings.TrimSpace(s.AttrOr("data-agreement-id", "")))
	})
	doc.Find("input").Each(func(_ int, s *goquery.Selection) {
		if !strings.EqualFold(s.AttrOr("name", ""), "agreementId") {
			return
		}
		candidates = append(candidates, strings.TrimSpace(s.AttrOr("value", "")))
	})
	return candidates, nil
}

func jsonId(value any) string {
	switch v := value.(type) {
	case json.Number:
		return v.String()
	case string:
		v = strings.TrimSpace(v)
		if textutil.IsDigits(v) {
			return v
		}
	}
	return ""
}

func firstId(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		id := jsonId(obj[key])
		if id != "" {
			return id
		}
	}
	return ""
}

func extractListItem(item any, memberId string) string {
	obj, ok := item.(map[string]any)
	if !ok {
		return jsonId(item)
	}
	if nested, ok := obj["packageAgreement"].(map[string]any); ok {
		owner := jsonId(nested["memberId"])
		if owner != "" && owner != textutil.Digits(memberId) {
			return ""
		}
		return firstId(nested, "id", "agreementId")
	}
	return firstId(obj, "agreementId", "id")
}

// ExtractFromList collects agreement ids from the package agreements list
// endpoint. ClubOS answers with a bare list, a list wrapped in an object or a
// single agreement object depending on the account.
func ExtractFromList(body []byte, memberId string) ([]string, error) {
	value, err := core.DecodeJSON(body)
	if err != nil {
		return nil, err
	}

	var list []any
	switch v := value.(type) {
	case []any:
		list = v
	case map[string]any:
		for _, key := range []string{"agreements", "packageAgreements", "data"} {
			wrapped, ok := v[key].([]any)
			if ok {
				list = wrapped
				break
			}
		}
		if list == nil {
			id := firstId(v, "id", "packageAgreementId", "agreementId")
			if id != "" {
				return []string{id}, nil
			}
		}
	}

	var candidates []string
	for _, item := range list {
		id := extractListItem(item, memberId)
		if id != "" {
			candidates = append(candidates, id)
		}
	}
	return candidates, nil
}
