package authoring

import (
	"encoding/json"
	"strings"
)

// Bullet is one claim in a section draft.
type Bullet struct {
	Text        string   `json:"text"`
	EvidenceIDs []string `json:"evidence_ids,omitempty"`
}

// SectionDraft is the canonical shape of one written resume section.
type SectionDraft struct {
	Section   string   `json:"section"`
	Seniority string   `json:"seniority,omitempty"`
	Bullets   []Bullet `json:"bullets"`
	Prose     string   `json:"prose,omitempty"`
}

// Seniority aliases the models use interchangeably.
var seniorityAliases = map[string]string{
	"sr":        "senior",
	"sr.":       "senior",
	"snr":       "senior",
	"jr":        "junior",
	"jr.":       "junior",
	"mid-level": "mid",
	"midlevel":  "mid",
	"middle":    "mid",
	"lead":      "lead",
	"principal": "principal",
	"staff":     "staff",
}

// NormalizeSectionDraft coerces a model-produced section payload into the
// canonical shape. The models emit duck-typed JSON: bullets appear as raw
// strings or {text} objects, evidence ids as a string or an array, seniority
// under several aliases. Anything unparseable degrades to the fallback
// shape, a single prose blob, rather than failing the stage.
func NormalizeSectionDraft(section string, raw json.RawMessage) SectionDraft {
	draft := SectionDraft{Section: section}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		// Fallback shape: treat the whole payload as prose.
		draft.Prose = SanitizeDelimiters(rawAsString(raw))
		return draft
	}

	if s, ok := obj["seniority"]; ok {
		draft.Seniority = NormalizeSeniority(rawAsString(s))
	}
	if p, ok := obj["prose"]; ok {
		draft.Prose = SanitizeDelimiters(rawAsString(p))
	} else if p, ok := obj["text"]; ok {
		draft.Prose = SanitizeDelimiters(rawAsString(p))
	}
	if b, ok := obj["bullets"]; ok {
		draft.Bullets = normalizeBullets(b)
	}

	if len(draft.Bullets) == 0 && draft.Prose == "" {
		draft.Prose = SanitizeDelimiters(rawAsString(raw))
	}
	return draft
}

// NormalizeSeniority maps seniority aliases to their canonical form.
func NormalizeSeniority(s string) string {
	key := strings.ToLower(strings.TrimSpace(s))
	if canonical, ok := seniorityAliases[key]; ok {
		return canonical
	}
	return key
}

func normalizeBullets(raw json.RawMessage) []Bullet {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		// A single bullet offered without the array wrapper.
		if b, ok := normalizeBullet(raw); ok {
			return []Bullet{b}
		}
		return nil
	}
	bullets := make([]Bullet, 0, len(items))
	for _, item := range items {
		if b, ok := normalizeBullet(item); ok {
			bullets = append(bullets, b)
		}
	}
	return bullets
}

func normalizeBullet(raw json.RawMessage) (Bullet, bool) {
	// Raw string form.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = SanitizeDelimiters(s)
		if s == "" {
			return Bullet{}, false
		}
		return Bullet{Text: s}, true
	}

	// {text, evidence_ids} form, evidence as string or array.
	var obj struct {
		Text        string          `json:"text"`
		EvidenceIDs json.RawMessage `json:"evidence_ids"`
		Evidence    json.RawMessage `json:"evidence"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil || obj.Text == "" {
		return Bullet{}, false
	}
	b := Bullet{Text: SanitizeDelimiters(obj.Text)}
	b.EvidenceIDs = normalizeStringOrArray(obj.EvidenceIDs)
	if len(b.EvidenceIDs) == 0 {
		b.EvidenceIDs = normalizeStringOrArray(obj.Evidence)
	}
	return b, true
}

// normalizeStringOrArray accepts "id", ["id1","id2"], or nothing.
func normalizeStringOrArray(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		if one == "" {
			return nil
		}
		return []string{one}
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		out := many[:0]
		for _, id := range many {
			if id != "" {
				out = append(out, id)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	}
	return nil
}

// rawAsString returns a JSON string value unquoted, or the raw text.
func rawAsString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
