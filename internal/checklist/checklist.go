// Package checklist converts a port-authority document checklist into
// document instances, creating catalog templates for rows it cannot match.
package checklist

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"voyagedocs/internal/calendar"
	"voyagedocs/internal/deadline"
	"voyagedocs/internal/domain"
)

// Item is one checklist row as exported from the tracking sheet.
type Item struct {
	No               string `json:"No"`
	Part             string `json:"Part"`
	DocumentName     string `json:"Document Name"`
	Name             string `json:"Name"`
	Status           string `json:"STATUS"`
	Notes            string `json:"Description / Notes"`
	ResponsibleParty string `json:"Responsible Party"`
	Mandatory        string `json:"Mandatory"`
	Status2          string `json:"Status2"`
	Evidence         string `json:"Evidence (File/Email)"`
	LastUpdate       string `json:"Last Update (GST)"`
}

// Title is the document name, falling back to the short name and the row number.
func (it Item) Title() string {
	switch {
	case !blank(it.DocumentName):
		return strings.TrimSpace(it.DocumentName)
	case !blank(it.Name):
		return strings.TrimSpace(it.Name)
	default:
		return "Checklist item " + strings.TrimSpace(it.No)
	}
}

// Result is the outcome of converting a checklist for one voyage.
type Result struct {
	Instances    []domain.DocInstance `json:"instances"`
	NewTemplates []domain.DocTemplate `json:"new_templates"`
	Matched      []string             `json:"matched_templates"`
}

var partCategory = map[string]string{
	"A": "ptw_pack",
	"B": "technical_drawings",
	"C": "ad_maritime_noc",
	"D": "hot_work",
	"E": "port_access",
}

var gst = time.FixedZone("GST", 4*60*60)

// ParseItems decodes a JSON array of checklist rows.
func ParseItems(r io.Reader) ([]Item, error) {
	var items []Item
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return nil, fmt.Errorf("invalid checklist json: %w", err)
	}
	return items, nil
}

// Import converts items for voyage v against the existing catalog.
// Rows whose document name matches no template yield a new template; later
// rows with the same name reuse it.
func Import(items []Item, v domain.Voyage, templates []domain.DocTemplate) Result {
	res := Result{Instances: []domain.DocInstance{}, NewTemplates: []domain.DocTemplate{}, Matched: []string{}}
	catalog := append([]domain.DocTemplate(nil), templates...)
	for _, item := range items {
		tmpl, ok := MatchTemplate(item.Title(), catalog)
		if ok {
			res.Matched = append(res.Matched, tmpl.ID)
		} else {
			tmpl = NewTemplate(item)
			catalog = append(catalog, tmpl)
			res.NewTemplates = append(res.NewTemplates, tmpl)
		}
		res.Instances = append(res.Instances, Instance(item, v, tmpl))
	}
	return res
}

// Instance builds the document instance for item bound to tmpl.
func Instance(item Item, v domain.Voyage, tmpl domain.DocTemplate) domain.DocInstance {
	inst := domain.NewDocInstance(v.ID, tmpl.ID)
	inst.WorkflowState = MapStatus(item.Status2)
	if due := deadline.CalculateDueDate(tmpl, v); due.Known() {
		inst.DueAt = calendar.Format(*due.DueAt)
	}
	inst.Assignee = ExtractAssignee(item.ResponsibleParty)
	inst.Attachments = Attachments(v.ID, tmpl.ID, item.Evidence, item.LastUpdate)
	if at, ok := ParseGST(item.LastUpdate); ok {
		event := "Status updated to " + string(inst.WorkflowState)
		if inst.WorkflowState == domain.StateSubmitted {
			event = "Document submitted"
		}
		inst.History = append(inst.History, domain.HistoryEntry{At: at, Event: event})
		inst.UpdatedAt = at
	}
	if !blank(item.Notes) {
		inst.Notes = strings.TrimSpace(item.Notes)
	}
	return inst
}

// MapStatus maps the sheet's status column onto a workflow state.
func MapStatus(status string) domain.WorkflowState {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "submitted":
		return domain.StateSubmitted
	case "partial":
		return domain.StateInProgress
	default:
		return domain.StateNotStarted
	}
}

var partyPattern = regexp.MustCompile(`^([^()]+)\s*\(([^)]+)\)`)

// ExtractAssignee reads the first party of "Mammoet (prepare) + Samsung (submit)".
func ExtractAssignee(party string) *domain.Assignee {
	if blank(party) {
		return nil
	}
	primary := strings.TrimSpace(strings.Split(party, "+")[0])
	if m := partyPattern.FindStringSubmatch(primary); m != nil {
		return &domain.Assignee{Name: strings.TrimSpace(m[1]), Org: strings.TrimSpace(m[2])}
	}
	fields := strings.Fields(primary)
	if len(fields) == 0 {
		return nil
	}
	return &domain.Assignee{Name: fields[0]}
}

// Attachments splits a ';'-separated evidence cell. Ids are stable for the
// same voyage, template and evidence text so re-imports do not duplicate.
func Attachments(voyageID, templateID, evidence, lastUpdate string) []domain.Attachment {
	out := []domain.Attachment{}
	if blank(evidence) {
		return out
	}
	uploaded, _ := ParseGST(lastUpdate)
	for _, part := range strings.Split(evidence, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		att := domain.Attachment{
			ID:         uuid.NewSHA1(uuid.NameSpaceURL, []byte(voyageID+"|"+templateID+"|"+part)).String(),
			Name:       part,
			Type:       "file",
			URL:        "#" + url.PathEscape(part),
			UploadedAt: uploaded,
		}
		if strings.HasPrefix(part, "http://") || strings.HasPrefix(part, "https://") {
			att.Type = "url"
			att.URL = part
		}
		out = append(out, att)
	}
	return out
}

var gstPattern = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})\s+(\d{2}):(\d{2})`)

// ParseGST converts "2026-01-22 10:51 GST" (UTC+4) to an RFC 3339 UTC timestamp.
func ParseGST(value string) (string, bool) {
	m := gstPattern.FindStringSubmatch(value)
	if m == nil {
		return "", false
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", m[1]+" "+m[2]+":"+m[3], gst)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

var (
	parenthetical = regexp.MustCompile(`\s*\([^)]*\)\s*`)
	dashes        = regexp.MustCompile(`\s*[-\x{2013}\x{2014}]\s*`)
	nonSlug       = regexp.MustCompile(`[^a-z0-9]+`)
)

// NormalizeTitle lowercases a document title and drops parentheticals and dashes.
func NormalizeTitle(title string) string {
	s := strings.ToLower(title)
	s = parenthetical.ReplaceAllString(s, " ")
	s = dashes.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

// MatchTemplate finds a template by normalized title, exact match first and
// then containment in either direction.
func MatchTemplate(docName string, templates []domain.DocTemplate) (domain.DocTemplate, bool) {
	name := NormalizeTitle(docName)
	if name == "" {
		return domain.DocTemplate{}, false
	}
	for _, t := range templates {
		if NormalizeTitle(t.Title) == name {
			return t, true
		}
	}
	for _, t := range templates {
		title := NormalizeTitle(t.Title)
		if title == "" {
			continue
		}
		if strings.Contains(name, title) || strings.Contains(title, name) {
			return t, true
		}
	}
	return domain.DocTemplate{}, false
}

// TemplateID derives a catalog id such as "ptw.marine_ptw_pack" from a row.
func TemplateID(docName, part string) string {
	prefix := "doc"
	if cat, ok := partCategory[part]; ok {
		prefix = strings.SplitN(cat, "_", 2)[0]
	}
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(docName), "_"), "_")
	if len(slug) > 30 {
		slug = strings.TrimRight(slug[:30], "_")
	}
	return prefix + "." + slug
}

// NewTemplate builds a catalog entry for an unmatched row, anchored four
// calendar days before MZP arrival.
func NewTemplate(item Item) domain.DocTemplate {
	category, ok := partCategory[item.Part]
	if !ok {
		category = "ptw_pack"
	}
	mandatory := strings.EqualFold(strings.TrimSpace(item.Mandatory), "mandatory")
	t := domain.DocTemplate{
		ID:         TemplateID(item.Title(), item.Part),
		Title:      item.Title(),
		CategoryID: category,
		Priority:   domain.PriorityImportant,
		AppliesTo:  domain.AppliesTo{Scope: domain.ScopeVoyage},
		Anchor: domain.Anchor{
			MilestoneKey: domain.MilestoneMZPArrival,
			OffsetDays:   -4,
			OffsetType:   domain.OffsetCalendarDays,
		},
	}
	if mandatory {
		t.Priority = domain.PriorityCritical
	}
	if !blank(item.Notes) {
		t.Description = strings.TrimSpace(item.Notes)
	}
	if !blank(item.Evidence) {
		ev := domain.EvidenceRequirement{ID: "main_evidence", Type: "file", Label: "Document File", Required: mandatory}
		if mandatory {
			ev.MinCount = 1
		}
		t.Evidence = []domain.EvidenceRequirement{ev}
	}
	return t
}

// blank treats the sheet's full-width space placeholder as empty.
func blank(s string) bool {
	return strings.TrimSpace(strings.ReplaceAll(s, "\u3000", "")) == ""
}
