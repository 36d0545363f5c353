package core

// normalize.go holds the dashboard export's cleanup rules: stage labels,
// action-name canonicalisation, shock energy extraction and error markers.

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Dashboard export column names.
const (
	ColTimestamp     = "Time Stamp[Hr:Min:Sec]"
	ColActionVital   = "Action/Vital Name"
	ColSubActionTime = "SubAction Time[Min:Sec]"
	ColSubActionName = "SubAction Name"
	ColScore         = "Score"
	ColOldValue      = "Old Value"
	ColNewValue      = "New Value"
	ColUsername      = "Username"
	ColSpeechCommand = "Speech Command"
)

// Derived metric and category names.
const (
	MetricStage       = "stage"
	MetricShockJoules = "shock_joules"

	CategoryMedication   = "Medication"
	CategoryErrorMarker  = "Error Marker"
	CategoryMissedAction = "Missed Action"
)

var (
	stageRegex = regexp.MustCompile(`^\s*\((\d+)\)\s*(.+?)\s*\(action\)\s*$`)
	shockRegex = regexp.MustCompile(`(.*?)(\b(\d+)[Jj]\b)(.*)`)
)

var actionCorrections = map[string]string{
	"Ascultate Lungs":    "Auscultate Lungs",
	"SYNCHRONIZED Shock": "Synchronized Shock",
}

var medications = map[string]bool{
	"Select Amiodarone":  true,
	"Select Calcium":     true,
	"Select Epinephrine": true,
	"Select Lidocaine":   true,
}

// DashboardSchema is the simulation dashboard's export layout.
func DashboardSchema() Schema {
	return Schema{
		Key:   "dashboard",
		Label: "Simulation dashboard export",
		Fields: []FieldSpec{
			{Name: ColTimestamp, Role: RoleTimestamp, Type: FieldTimestamp, Required: true},
			{Name: ColSubActionName, Role: RoleActionType, Type: FieldText, Required: true,
				Fallback: ColActionVital, Normalizer: NormalizeActionName},
			{Name: ColUsername, Role: RoleActor, Type: FieldText},
			{Name: ColScore, Role: RoleIgnored, Type: FieldText},
			{Name: ColOldValue, Role: RoleIgnored, Type: FieldText},
			{Name: ColNewValue, Role: RoleIgnored, Type: FieldText},
		},
		Derivers:      []Deriver{deriveStage, deriveShock, deriveRowKind},
		Derived:       []string{MetricStage, MetricShockJoules},
		DefaultMetric: MetricStage,
	}
}

// ExtractStage parses "(3) Stage Name (action)" into its number and name.
func ExtractStage(s string) (int, string, bool) {
	m := stageRegex.FindStringSubmatch(s)
	if m == nil {
		return 0, "", false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, "", false
	}
	return n, strings.Join(strings.Fields(m[2]), " "), true
}

// ExtractShockValue splits a "<n>J" energy token out of an action name.
// Returns the remaining name and the token ("" when absent).
func ExtractShockValue(s string) (string, string) {
	m := shockRegex.FindStringSubmatch(s)
	if m == nil {
		return s, ""
	}
	before := strings.TrimSpace(m[1])
	after := strings.TrimSpace(m[4])
	return strings.TrimSpace(before + " " + after), m[2]
}

// NormalizeActionName canonicalises a raw action label: stage labels collapse
// to their name, words are title-cased, "UNAVAILABLE" is dropped, energy
// tokens are removed and known misspellings are corrected.
func NormalizeActionName(s string) string {
	if _, name, ok := ExtractStage(s); ok {
		return name
	}

	s = strings.TrimSpace(strings.ReplaceAll(capitalizeWords(s), "UNAVAILABLE", ""))
	name, _ := ExtractShockValue(s)
	name = strings.Join(strings.Fields(name), " ")

	if fixed, ok := actionCorrections[name]; ok {
		return fixed
	}
	return name
}

// ActionCategory groups related actions; unknown actions are their own category.
func ActionCategory(action string) string {
	if medications[action] {
		return CategoryMedication
	}
	return action
}

// capitalizeWords upper-cases the first letter of each word and keeps the
// rest, so acronyms like "EKG" and "UNAVAILABLE" survive. Words that are
// fully upper-case except for a lower-case run ("UNsynchronized") are
// lower-cased first.
func capitalizeWords(s string) string {
	// Casers carry state and are not shared between workers.
	title := cases.Title(language.English, cases.NoLower)
	words := strings.Fields(s)
	for i, w := range words {
		if mixedUpperPrefix(w) {
			w = strings.ToLower(w)
		}
		words[i] = title.String(w)
	}
	return strings.Join(words, " ")
}

// mixedUpperPrefix matches words like "UNsynchronized" or "(UNsynchronized".
func mixedUpperPrefix(w string) bool {
	upper, lower := 0, 0
	for _, r := range w {
		switch {
		case r >= 'A' && r <= 'Z':
			if lower > 0 {
				return false
			}
			upper++
		case r >= 'a' && r <= 'z':
			lower++
		}
	}
	return upper >= 2 && lower > 0
}

func deriveStage(lookup func(string) (string, bool), ev *ActionEvent) {
	raw, ok := lookup(ColActionVital)
	if !ok {
		return
	}
	ev.Parent = raw
	if n, name, ok := ExtractStage(raw); ok {
		ev.Stage = n
		ev.StageName = name
		ev.Metrics[MetricStage] = float64(n)
	}
}

func deriveShock(lookup func(string) (string, bool), ev *ActionEvent) {
	raw, ok := lookup(ColSubActionName)
	if !ok {
		return
	}
	_, token := ExtractShockValue(raw)
	if token == "" {
		return
	}
	if j, err := strconv.Atoi(strings.TrimRight(token, "Jj")); err == nil {
		ev.Metrics[MetricShockJoules] = float64(j)
	}
}

var (
	cprStartMarkers = map[string]bool{"begin cpr": true, "enter cpr": true}
	cprEndMarkers   = map[string]bool{"stop cpr": true, "end cpr": true}
)

// deriveRowKind classifies a dashboard row and sets its category. Marker
// rows name the flagged action in Username, so they carry no actor.
func deriveRowKind(lookup func(string) (string, bool), ev *ActionEvent) {
	cell := func(col string) string {
		v, _ := lookup(col)
		return strings.TrimSpace(v)
	}
	subName, subTime := cell(ColSubActionName), cell(ColSubActionTime)
	score, oldValue, newValue := cell(ColScore), cell(ColOldValue), cell(ColNewValue)

	ev.Category = ActionCategory(ev.ActionType)

	if oldValue == "Error-Triggered" {
		switch score {
		case "Action-Was-Performed":
			ev.Kind = KindErrorMarker
			ev.Category = CategoryErrorMarker
		case "Action-Was-Not-Performed":
			ev.Kind = KindMissedAction
			ev.Category = CategoryMissedAction
		}
		if ev.Kind != KindNone {
			ev.Marker = &MarkerInfo{
				Target:    cell(ColUsername),
				Rule:      subName,
				Violation: score,
				Advice:    cell(ColSpeechCommand),
			}
			ev.ActorID = ""
			return
		}
	}

	staged := ev.Stage > 0
	switch cpr := strings.ToLower(strings.Join(strings.Fields(subName), " ")); {
	case staged && subTime == "" && subName == "" && score == "" && oldValue == "" && newValue == "":
		ev.Kind = KindStageBoundary
	case cprStartMarkers[cpr]:
		ev.Kind = KindCPRStart
	case cprEndMarkers[cpr]:
		ev.Kind = KindCPREnd
	case staged && subTime != "" && subName != "":
		ev.Kind = KindAction
	default:
		ev.Kind = KindOther
	}
}
