package members

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"gymbot-backend/internal/components/telemetry"
	"gymbot-backend/lib/htmlutil"
	"gymbot-backend/lib/scrapers/clubos/core"
	"gymbot-backend/lib/textutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("gymbot.lib.scrapers.clubos.members")

const (
	report_search         = "search"
	report_search_roster  = "search-roster"
	report_search_no_data = "search-unparsable-entry"
)

// Resolver turns a partial member reference into a ClubOS member id.
type Resolver struct {
	client *core.Client
	roster *Roster
	tel    telemetry.API
}

// NewResolver creates a resolver, roster can be nil in which case only the
// suggestion search is used.
func NewResolver(client *core.Client, roster *Roster) *Resolver {
	return &Resolver{
		client: client,
		roster: roster,
		tel:    telemetry.NewScopedAPI("clubos_members", client.Telemetry()),
	}
}

// Resolve returns the member id for ref. A member that cannot be found is not an
// error, found is false. The error is only set when ctx is done.
//
// The client must be authenticated unless ref.Id is set.
func (r *Resolver) Resolve(ctx context.Context, ref Ref) (id string, found bool, err error) {
	ctx, span := tracer.Start(ctx, "resolver:Resolve")
	defer span.End()

	if trimmed := strings.TrimSpace(ref.Id); trimmed != "" {
		return trimmed, true, nil
	}
	keyword := ref.Keyword()
	if keyword == "" {
		return "", false, nil
	}
	normalized := ref.Normalized()

	candidates, err := r.search(ctx, keyword)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "attendee search failed")
		r.tel.ReportWarning(report_search, keyword, err)
	}
	id, found = pick(normalized, candidates)
	if found {
		span.SetAttributes(attribute.String("source", "attendee-search"))
		return id, true, nil
	}

	if r.roster != nil {
		assignees, err := r.roster.List(ctx)
		if err != nil {
			r.tel.ReportWarning(report_search_roster, err)
		}
		id, found = pick(normalized, assigneeCandidates(assignees))
		if found {
			span.SetAttributes(attribute.String("source", "roster"))
			return id, true, nil
		}
	}

	if ctx.Err() != nil {
		return "", false, ctx.Err()
	}
	return "", false, nil
}

func (r *Resolver) search(ctx context.Context, keyword string) ([]Candidate, error) {
	res, err := r.client.Get(ctx, core.Light, "/action/UserSuggest/attendee-search", url.Values{
		"keyword":      {keyword},
		"assignedOnly": {"false"},
		"limit":        {"50"},
	})
	if err != nil {
		return nil, err
	}
	return r.parseSuggestions(res.Body())
}

type suggestionData struct {
	Id   json.RawMessage `json:"id"`
	Name string          `json:"name"`
}

// suggestionId accepts both numeric and string ids.
func (d suggestionData) suggestionId() string {
	raw := strings.Trim(string(d.Id), `"`)
	if textutil.IsDigits(raw) {
		return raw
	}
	return ""
}

func (r *Resolver) parseSuggestions(body []byte) ([]Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}

	var candidates []Candidate
	doc.Find("li.person").Each(func(_ int, li *goquery.Selection) {
		var candidate Candidate

		raw, ok := li.Find("input.data").Attr("value")
		if ok && raw != "" {
			var data suggestionData
			err := json.Unmarshal([]byte(raw), &data)
			if err != nil {
				r.tel.ReportDebug(report_search_no_data, err)
			} else {
				candidate.Id = data.suggestionId()
				candidate.Name = textutil.NormalizeName(data.Name)
			}
		}
		if candidate.Id == "" {
			liId := li.AttrOr("id", "")
			if textutil.IsDigits(liId) {
				n, err := strconv.ParseUint(liId, 10, 64)
				if err == nil {
					candidate.Id = strconv.FormatUint(n, 10)
				}
			}
		}
		candidate.Text = strings.ToLower(htmlutil.VisibleText(li))

		candidates = append(candidates, candidate)
	})
	return candidates, nil
}

func assigneeCandidates(assignees []Assignee) []Candidate {
	candidates := make([]Candidate, 0, len(assignees))
	for _, a := range assignees {
		candidates = append(candidates, Candidate{
			Id:   a.Id,
			Name: textutil.NormalizeName(a.Name),
			Text: strings.ToLower(strings.Join([]string{a.Name, a.Email, a.Phone}, " ")),
		})
	}
	return candidates
}
