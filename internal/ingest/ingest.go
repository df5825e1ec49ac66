// Package ingest turns exported schedule files into scheduled tasks.
package ingest

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"voyagedocs/internal/calendar"
	"voyagedocs/internal/domain"
)

// MaxFileSize is the largest schedule file accepted.
const MaxFileSize = 10 * 1024 * 1024

var ErrNoRecords = errors.New("no valid task records found")

type Format string

const (
	FormatDelimited Format = "tsv"
	FormatJSON      Format = "json"
)

// DetectFormat maps a file name onto a parser.
func DetectFormat(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return FormatJSON, nil
	case ".tsv", ".txt", ".csv":
		return FormatDelimited, nil
	default:
		return "", fmt.Errorf("invalid file type %q; supported: .tsv, .json, .txt, .csv", filepath.Ext(name))
	}
}

// CheckFile validates the name and size of an upload before it is read.
func CheckFile(name string, size int64) error {
	if _, err := DetectFormat(name); err != nil {
		return err
	}
	if size > MaxFileSize {
		return fmt.Errorf("file too large: %d bytes (max %d)", size, MaxFileSize)
	}
	return nil
}

// ParseFile reads and parses a schedule file from disk.
func ParseFile(path string) ([]domain.ScheduledTask, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if err := CheckFile(path, info.Size()); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f, filepath.Base(path))
}

// Parse dispatches on the file extension of name.
func Parse(r io.Reader, name string) ([]domain.ScheduledTask, error) {
	format, err := DetectFormat(name)
	if err != nil {
		return nil, err
	}
	if format == FormatJSON {
		return ParseJSON(r)
	}
	return ParseDelimited(r)
}

type field int

const (
	fieldNone field = iota
	fieldID1
	fieldID2
	fieldID3
	fieldName
	fieldDuration
	fieldStart
	fieldFinish
)

var headerAliases = map[string]field{
	"activity id (1)": fieldID1, "activity id(1)": fieldID1, "activityid1": fieldID1,
	"activity_id_1": fieldID1, "wbs1": fieldID1, "wbs level 1": fieldID1,

	"activity id (2)": fieldID2, "activity id(2)": fieldID2, "activityid2": fieldID2,
	"activity_id_2": fieldID2, "wbs2": fieldID2, "wbs level 2": fieldID2,

	"activity id (3)": fieldID3, "activity id(3)": fieldID3, "activityid3": fieldID3,
	"activity_id_3": fieldID3, "wbs3": fieldID3, "wbs level 3": fieldID3,

	"activity name": fieldName, "activityname": fieldName, "activity_name": fieldName,
	"task name": fieldName, "name": fieldName, "description": fieldName,

	"original duration": fieldDuration, "originalduration": fieldDuration,
	"original_duration": fieldDuration, "duration": fieldDuration, "dur": fieldDuration,
	"days": fieldDuration,

	"planned start": fieldStart, "plannedstart": fieldStart, "planned_start": fieldStart,
	"start date": fieldStart, "start": fieldStart, "begin": fieldStart, "start_date": fieldStart,

	"planned finish": fieldFinish, "plannedfinish": fieldFinish, "planned_finish": fieldFinish,
	"finish date": fieldFinish, "finish": fieldFinish, "end": fieldFinish, "end date": fieldFinish,
	"end_date": fieldFinish,
}

var requiredFields = []struct {
	f     field
	label string
}{
	{fieldName, "Activity Name"},
	{fieldDuration, "Original Duration"},
	{fieldStart, "Planned Start"},
	{fieldFinish, "Planned Finish"},
}

var spaceRun = regexp.MustCompile(`\s+`)

func normalizeHeader(h string) string {
	return spaceRun.ReplaceAllString(strings.ToLower(strings.TrimSpace(unquote(h))), " ")
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "\ufeff")
	s = strings.TrimLeft(s, `"'`)
	return strings.TrimRight(s, `"'`)
}

// ParseDelimited parses tab- or comma-separated schedule exports.
// The delimiter is tab when the header line contains one.
func ParseDelimited(r io.Reader) ([]domain.ScheduledTask, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	header, _, _ := bytes.Cut(data, []byte("\n"))
	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = ','
	if bytes.ContainsRune(header, '\t') {
		reader.Comma = '\t'
	}
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	// A tab counts as leading space to encoding/csv, so trimming would fold
	// empty tab-separated cells into their neighbour.
	reader.TrimLeadingSpace = reader.Comma == ','

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read schedule: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("file must have a header row and at least one data row")
	}

	columns := make([]field, len(records[0]))
	found := map[field]bool{}
	raw := make([]string, len(records[0]))
	for i, h := range records[0] {
		raw[i] = unquote(h)
		columns[i] = headerAliases[normalizeHeader(h)]
		found[columns[i]] = true
	}
	var missing []string
	for _, req := range requiredFields {
		if !found[req.f] {
			missing = append(missing, req.label)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required columns: %s. Found columns: %s",
			strings.Join(missing, ", "), strings.Join(raw, ", "))
	}

	var tasks []domain.ScheduledTask
	for i, rec := range records[1:] {
		var row rawTask
		for idx, value := range rec {
			if idx < len(columns) {
				row.set(columns[idx], unquote(value))
			}
		}
		if row.name == "" && row.id1 == "" && row.id2 == "" && row.id3 == "" {
			continue
		}
		tasks = append(tasks, row.build(i+1))
	}
	if len(tasks) == 0 {
		return nil, ErrNoRecords
	}
	return tasks, nil
}

// ParseJSON accepts either an array of tasks or an object with a tasks array.
// Keys may use camelCase, snake_case, or the export's column titles.
func ParseJSON(r io.Reader) ([]domain.ScheduledTask, error) {
	var doc any
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("invalid JSON syntax: %w", err)
	}
	var items []any
	switch v := doc.(type) {
	case []any:
		items = v
	case map[string]any:
		list, ok := v["tasks"].([]any)
		if !ok {
			return nil, fmt.Errorf("JSON must contain an array of tasks or an object with a 'tasks' array")
		}
		items = list
	default:
		return nil, fmt.Errorf("JSON must contain an array of tasks or an object with a 'tasks' array")
	}
	tasks := make([]domain.ScheduledTask, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("task %d is not an object", i+1)
		}
		row := rawTask{
			id1:    pick(obj, "activityId1", "activity_id_1", "Activity ID (1)"),
			id2:    pick(obj, "activityId2", "activity_id_2", "Activity ID (2)"),
			id3:    pick(obj, "activityId3", "activity_id_3", "Activity ID (3)"),
			name:   pick(obj, "activityName", "Activity Name", "name"),
			dur:    ParseDuration(pick(obj, "originalDuration", "Original Duration", "duration")),
			start:  pick(obj, "plannedStart", "Planned Start", "start_date"),
			finish: pick(obj, "plannedFinish", "Planned Finish", "end_date"),
		}
		tasks = append(tasks, row.build(i+1))
	}
	if len(tasks) == 0 {
		return nil, ErrNoRecords
	}
	return tasks, nil
}

func pick(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := obj[k]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			if val != "" {
				return val
			}
		case json.Number:
			return val.String()
		default:
			return fmt.Sprint(val)
		}
	}
	return ""
}

type rawTask struct {
	id1, id2, id3 string
	name          string
	dur           int
	start, finish string
}

func (r *rawTask) set(f field, value string) {
	switch f {
	case fieldID1:
		r.id1 = value
	case fieldID2:
		r.id2 = value
	case fieldID3:
		r.id3 = value
	case fieldName:
		r.name = value
	case fieldDuration:
		r.dur = ParseDuration(value)
	case fieldStart:
		r.start = value
	case fieldFinish:
		r.finish = value
	}
}

func (r rawTask) build(index int) domain.ScheduledTask {
	var parts []string
	for _, p := range []string{r.id1, r.id2, r.id3} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	id := strings.Join(parts, ".")
	if id == "" {
		id = fmt.Sprintf("TASK-%d", index)
	}
	name := r.name
	if name == "" {
		name = fmt.Sprintf("Unnamed Activity %d", index)
	}
	return domain.ScheduledTask{
		ID:          id,
		ActivityID1: r.id1,
		ActivityID2: r.id2,
		ActivityID3: r.id3,
		Name:        name,
		Duration:    r.dur,
		StartDate:   NormalizeDate(r.start),
		EndDate:     NormalizeDate(r.finish),
		Level:       domain.TaskLevel(r.id1, r.id2, r.id3),
	}
}

var nonNumeric = regexp.MustCompile(`[^\d.]`)

// ParseDuration reads "5", "5d", "5 days" or "5.0" as whole days. Unreadable values are 0.
func ParseDuration(value string) int {
	cleaned := nonNumeric.ReplaceAllString(value, "")
	if cleaned == "" {
		return 0
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return int(math.Round(f))
}

var exportLayouts = []string{
	"02-Jan-06",
	"2-Jan-06",
	"02-Jan-2006",
	"02-Jan-06 15:04",
	"1/2/2006",
	"2006/01/02",
	"Jan 2, 2006",
}

// NormalizeDate rewrites recognised date formats as YYYY-MM-DD.
// Unrecognised values are returned unchanged so derivation can report them.
func NormalizeDate(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if t, err := calendar.ParseDate(value); err == nil {
		return calendar.Format(t)
	}
	// Primavera exports mark actuals with a trailing "A".
	trimmed := strings.TrimSpace(strings.TrimSuffix(value, " A"))
	for _, layout := range exportLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return calendar.Format(t)
		}
	}
	return value
}
