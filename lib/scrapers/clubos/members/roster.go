package members

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gymbot-backend/internal/components/telemetry"
	"gymbot-backend/lib/htmlutil"
	"gymbot-backend/lib/scrapers/clubos/core"

	"github.com/PuerkitoBio/goquery"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

const (
	report_roster_ajax = "roster-ajax"
	report_roster_page = "roster-page"
)

const rosterKey = "assignees"

// Assignee is a member assigned to the logged in staff account.
type Assignee struct {
	Id    string
	Name  string
	Email string
	Phone string
}

// Roster lists the staff account's assignees, results are cached for the given
// ttl.
type Roster struct {
	client *core.Client
	cache  *expirable.LRU[string, []Assignee]
	group  singleflight.Group
	tel    telemetry.API
}

func NewRoster(client *core.Client, ttl time.Duration) *Roster {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Roster{
		client: client,
		cache:  expirable.NewLRU[string, []Assignee](1, nil, ttl),
		tel:    telemetry.NewScopedAPI("clubos_members", client.Telemetry()),
	}
}

// Invalidate drops the cached roster.
func (r *Roster) Invalidate() {
	r.cache.Purge()
}

// List returns the assignees, concurrent callers share one fetch. An empty roster
// is never cached.
func (r *Roster) List(ctx context.Context) ([]Assignee, error) {
	ctx, span := tracer.Start(ctx, "roster:List")
	defer span.End()

	cached, ok := r.cache.Get(rosterKey)
	if ok {
		return cached, nil
	}

	// the shared fetch outlives any single caller
	ch := r.group.DoChan(rosterKey, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.fetchTimeout())
		defer cancel()
		assignees, err := r.fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		if len(assignees) > 0 {
			r.cache.Add(rosterKey, assignees)
		}
		return assignees, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-ch:
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Val.([]Assignee), nil
	}
}

// fetchTimeout covers the ajax call plus the page fallback.
func (r *Roster) fetchTimeout() time.Duration {
	return r.client.Timeouts.Light + r.client.Timeouts.Bulk
}

func (r *Roster) fetch(ctx context.Context) ([]Assignee, error) {
	res, err := r.client.Get(ctx, core.Light, "/action/Assignees/members", url.Values{
		"_": {strconv.FormatInt(r.client.Clock().Now().UnixMilli(), 10)},
	})
	if err == nil {
		assignees, err := parseAssignees(res.Body())
		if err == nil && len(assignees) > 0 {
			return assignees, nil
		}
		if err != nil {
			r.tel.ReportWarning(report_roster_ajax, err)
		}
	} else {
		r.tel.ReportWarning(report_roster_ajax, err)
	}

	body, err := r.client.GetPage(ctx, "/action/Assignees", nil)
	if err != nil {
		r.tel.ReportWarning(report_roster_page, err)
		return nil, fmt.Errorf("fetch assignees: %w", err)
	}
	return parseAssigneesHtml(body)
}

// parseAssignees accepts the JSON list returned by the ajax endpoint and falls
// back to the HTML fragment it sometimes returns instead.
func parseAssignees(body []byte) ([]Assignee, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		value, err := core.DecodeJSON(trimmed)
		if err != nil {
			return nil, err
		}
		list, _ := value.([]any)
		var out []Assignee
		for _, item := range list {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			assignee := assigneeFromJson(obj)
			if assignee.Id != "" {
				out = append(out, assignee)
			}
		}
		return dedupe(out), nil
	}
	return parseAssigneesHtml(body)
}

func stringField(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := obj[key].(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func assigneeFromJson(obj map[string]any) Assignee {
	name := stringField(obj, "name", "memberName")
	if name == "" {
		name = strings.TrimSpace(stringField(obj, "firstName") + " " + stringField(obj, "lastName"))
	}
	return Assignee{
		Id:    stringField(obj, "id", "memberId", "member_id"),
		Name:  name,
		Email: stringField(obj, "email", "emailAddress"),
		Phone: stringField(obj, "phone", "phoneNumber"),
	}
}

var delegateRegex = regexp.MustCompile(`delegate\((\d+),`)
var phoneRegex = regexp.MustCompile(`(?:\+?1[\s\-.]?)?\(?\d{3}\)?[\s\-.]?\d{3}[\s\-.]?\d{4}`)

func parseAssigneesHtml(body []byte) ([]Assignee, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}

	var out []Assignee
	doc.Find("li").Each(func(_ int, li *goquery.Selection) {
		var assignee Assignee

		groups := delegateRegex.FindStringSubmatch(li.AttrOr("onclick", ""))
		if len(groups) == 2 {
			assignee.Id = groups[1]
			assignee.Name = htmlutil.VisibleText(li.Find("a").First())
		}
		if assignee.Id == "" {
			li.Find("[onclick]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
				groups := delegateRegex.FindStringSubmatch(s.AttrOr("onclick", ""))
				if len(groups) != 2 {
					return true
				}
				assignee.Id = groups[1]
				assignee.Name = htmlutil.VisibleText(s)
				return false
			})
		}
		if assignee.Id == "" {
			return
		}

		text := htmlutil.VisibleText(li)
		if assignee.Name == "" {
			assignee.Name = text
		}
		for _, anchor := range htmlutil.GetAnchors(li.Find("a")) {
			if strings.HasPrefix(strings.ToLower(anchor.Href), "mailto:") {
				assignee.Email = anchor.Href[len("mailto:"):]
				break
			}
		}
		assignee.Phone = phoneRegex.FindString(text)

		out = append(out, assignee)
	})
	return dedupe(out), nil
}

// dedupe keeps the first entry of every id, filling its missing fields from the
// later ones.
func dedupe(assignees []Assignee) []Assignee {
	index := map[string]int{}
	var out []Assignee
	for _, a := range assignees {
		i, seen := index[a.Id]
		if !seen {
			index[a.Id] = len(out)
			out = append(out, a)
			continue
		}
		existing := &out[i]
		if existing.Name == "" {
			existing.Name = a.Name
		}
		if existing.Email == "" {
			existing.Email = a.Email
		}
		if existing.Phone == "" {
			existing.Phone = a.Phone
		}
	}
	return out
}
