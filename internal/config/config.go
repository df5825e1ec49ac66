package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"voyagedocs/internal/deadline"
	"voyagedocs/internal/domain"
	"voyagedocs/internal/voyage"
)

// FileName is the workspace config file.
const FileName = "voyagedocs.yml"

// Config models voyagedocs.yml.
type Config struct {
	Project struct {
		ID string `yaml:"id" json:"id"`
	} `yaml:"project" json:"project"`
	Schedule  Schedule `yaml:"schedule" json:"schedule"`
	Deadlines struct {
		AtRiskDays *int `yaml:"at_risk_days,omitempty" json:"at_risk_days,omitempty"`
	} `yaml:"deadlines" json:"deadlines"`
	Templates []domain.DocTemplate `yaml:"templates" json:"templates"`
	Webhooks  []WebhookConfig      `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`
}

type Schedule struct {
	TripGroups            []TripGroup        `yaml:"trip_groups" json:"trip_groups"`
	Milestones            []MilestonePattern `yaml:"milestones" json:"milestones"`
	DocDeadlineOffsetDays *int               `yaml:"doc_deadline_offset_days,omitempty" json:"doc_deadline_offset_days,omitempty"`
	ShiftDays             int                `yaml:"shift_days,omitempty" json:"shift_days,omitempty"`
}

// TripGroup maps an Activity ID (2) value onto a voyage. List order is voyage order.
type TripGroup struct {
	ID          string `yaml:"id" json:"id"`
	ActivityID2 string `yaml:"activity_id2" json:"activity_id2"`
	Label       string `yaml:"label" json:"label"`
}

type MilestonePattern struct {
	Key     domain.MilestoneKey `yaml:"key" json:"key"`
	Pattern string              `yaml:"pattern" json:"pattern"`
	Flags   string              `yaml:"flags,omitempty" json:"flags,omitempty"`
	Match   string              `yaml:"match,omitempty" json:"match,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events,omitempty" json:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty" json:"secret,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with vd config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	seenGroups := map[string]bool{}
	for i, g := range c.Schedule.TripGroups {
		if g.ActivityID2 == "" {
			return fmt.Errorf("schedule.trip_groups[%d].activity_id2 is required", i)
		}
		if seenGroups[g.ActivityID2] {
			return fmt.Errorf("schedule.trip_groups has duplicate activity_id2 %q", g.ActivityID2)
		}
		seenGroups[g.ActivityID2] = true
	}
	for i, m := range c.Schedule.Milestones {
		if !m.Key.Valid() {
			return fmt.Errorf("schedule.milestones[%d] has unknown milestone key %q", i, m.Key)
		}
		if _, err := voyage.NewMatcher(m.Match, m.Pattern, m.Flags); err != nil {
			return fmt.Errorf("schedule.milestones[%d] (%s): %w", i, m.Key, err)
		}
	}
	if c.Deadlines.AtRiskDays != nil && *c.Deadlines.AtRiskDays < 0 {
		return fmt.Errorf("deadlines.at_risk_days must not be negative")
	}
	ids := map[string]bool{}
	for _, t := range c.Templates {
		if t.ID == "" {
			return fmt.Errorf("templates contains an entry without id")
		}
		if ids[t.ID] {
			return fmt.Errorf("template %s is defined twice", t.ID)
		}
		ids[t.ID] = true
	}
	for _, t := range c.Templates {
		if err := validateTemplate(t, ids); err != nil {
			return err
		}
	}
	for i, h := range c.Webhooks {
		if h.URL == "" {
			return fmt.Errorf("webhooks[%d].url is required", i)
		}
	}
	return nil
}

func validateTemplate(t domain.DocTemplate, ids map[string]bool) error {
	if t.Title == "" {
		return fmt.Errorf("template %s title is required", t.ID)
	}
	if !t.Anchor.MilestoneKey.Valid() {
		return fmt.Errorf("template %s anchors to unknown milestone %q", t.ID, t.Anchor.MilestoneKey)
	}
	switch t.Anchor.OffsetType {
	case domain.OffsetCalendarDays, domain.OffsetBusinessDays:
	default:
		return fmt.Errorf("template %s has invalid offset_type %q", t.ID, t.Anchor.OffsetType)
	}
	switch t.AppliesTo.Scope {
	case domain.ScopeVoyage, domain.ScopeUnit, domain.ScopeProject:
	default:
		return fmt.Errorf("template %s has invalid scope %q", t.ID, t.AppliesTo.Scope)
	}
	switch t.Priority {
	case domain.PriorityCritical, domain.PriorityImportant, domain.PriorityStandard, domain.PriorityRecommended:
	default:
		return fmt.Errorf("template %s has invalid priority %q", t.ID, t.Priority)
	}
	for _, dep := range t.Dependencies {
		if dep == t.ID {
			return fmt.Errorf("template %s depends on itself", t.ID)
		}
		if !ids[dep] {
			return fmt.Errorf("template %s depends on unknown template %s", t.ID, dep)
		}
	}
	for _, ev := range t.Evidence {
		if ev.MinCount < 0 {
			return fmt.Errorf("template %s evidence %s has negative min_count", t.ID, ev.ID)
		}
	}
	return nil
}

// VoyageRules compiles the schedule section for voyage derivation.
func (c *Config) VoyageRules() (voyage.Rules, error) {
	rules := voyage.Rules{DocDeadlineOffsetDays: c.Schedule.DocDeadlineOffsetDays}
	for _, g := range c.Schedule.TripGroups {
		rules.TripGroups = append(rules.TripGroups, voyage.TripGroup{ID: g.ID, Key: g.ActivityID2, Label: g.Label})
	}
	for _, m := range c.Schedule.Milestones {
		matcher, err := voyage.NewMatcher(m.Match, m.Pattern, m.Flags)
		if err != nil {
			return voyage.Rules{}, fmt.Errorf("milestone %s: %w", m.Key, err)
		}
		rules.Milestones = append(rules.Milestones, voyage.MilestoneRule{Key: m.Key, Matcher: matcher})
	}
	return rules, nil
}

// Shift is the global schedule shift applied to extracted milestones.
func (c *Config) Shift() time.Duration {
	return time.Duration(c.Schedule.ShiftDays) * 24 * time.Hour
}

// AtRiskDays returns the configured at-risk window or the default.
func (c *Config) AtRiskDays() int {
	if c.Deadlines.AtRiskDays == nil {
		return deadline.DefaultAtRiskDays
	}
	return *c.Deadlines.AtRiskDays
}

// Template looks up a template by id.
func (c *Config) Template(id string) (domain.DocTemplate, bool) {
	for _, t := range c.Templates {
		if t.ID == id {
			return t, true
		}
	}
	return domain.DocTemplate{}, false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(projectID))).Decode(&cfg)
	cfg.Project.ID = projectID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  id: %s

schedule:
  trip_groups:
    - id: tr12
      activity_id2: "AGI TR Units 1-2"
      label: "AGI TR Units 1-2"
    - id: tr34
      activity_id2: "AGI TR Units 3-4"
      label: "AGI TR Units 3-4"
    - id: tr56
      activity_id2: "AGLI TR Units 5-6"
      label: "AGI TR Units 5-6"
    - id: tr7
      activity_id2: "AGL TR Unit 7"
      label: "AGI TR Unit 7"

  milestones:
    - key: mzp_arrival
      pattern: "(arriv|arrival).*(mzp|mina zayed)|(mzp|mina zayed).*arriv"
      flags: i
    - key: mzp_departure
      pattern: "(depart|sail).*(mzp|mina zayed)|(mzp|mina zayed).*(depart|sail)"
      flags: i
    - key: loadout_start
      pattern: "load[- ]?out"
      flags: i
    - key: loadout_end
      pattern: "sea ?fastening|load[- ]?out.*(complete|end)"
      flags: i
    - key: agi_arrival
      pattern: "(arriv|arrival).*agi|agi.*arriv"
      flags: i
    - key: agi_departure
      pattern: "(depart|sail).*agi|agi.*(depart|sail)"
      flags: i

  doc_deadline_offset_days: -4

deadlines:
  at_risk_days: 2

templates:
  - id: ptw.marine_ptw_pack
    title: "Marine PTW Pack"
    category_id: ptw_pack
    priority: critical
    applies_to: {scope: voyage}
    anchor: {milestone_key: doc_deadline, offset_days: 0, offset_type: calendar_days}
    evidence:
      - {id: signed_pack, type: file, label: "Signed PTW pack", required: true, min_count: 1}

  - id: noc.ad_maritime
    title: "AD Maritime NOC"
    category_id: ad_maritime_noc
    priority: critical
    applies_to: {scope: voyage}
    anchor: {milestone_key: mzp_arrival, offset_days: -5, offset_type: business_days}
    dependencies: [ptw.marine_ptw_pack]
    evidence:
      - {id: noc_letter, type: file, label: "NOC letter", required: true, min_count: 1}

  - id: technical.stowage_drawings
    title: "Stowage & Lashing Drawings"
    category_id: technical_drawings
    priority: important
    applies_to: {scope: voyage}
    anchor: {milestone_key: loadout_start, offset_days: -7, offset_type: calendar_days}

  - id: hot.work_permit
    title: "Hot Work Permit"
    category_id: hot_work
    priority: important
    applies_to: {scope: voyage}
    anchor: {milestone_key: loadout_start, offset_days: -2, offset_type: business_days}

  - id: port.access_passes
    title: "Port Access Passes"
    category_id: port_access
    priority: standard
    applies_to: {scope: project}
    anchor: {milestone_key: mzp_arrival, offset_days: -3, offset_type: calendar_days}

  - id: agi.berth_booking
    title: "AGI Berth Booking Confirmation"
    category_id: port_access
    priority: standard
    applies_to: {scope: voyage}
    anchor: {milestone_key: agi_arrival, offset_days: -2, offset_type: business_days}
    links: {tide_required: true}

  - id: unit.inspection_record
    title: "Unit Inspection Record"
    category_id: technical_drawings
    priority: recommended
    applies_to: {scope: unit}
    anchor: {milestone_key: loadout_end, offset_days: 1, offset_type: calendar_days}
`
