// Package catalog adapts the external government support-program catalog:
// fetching announcements, normalizing their loose region/category vocabulary
// and interpreting deadline strings.
package catalog

import "strings"

// Nationwide is the sentinel region meaning a program applies everywhere.
const Nationwide = "전국"

// SupportAreas is the fixed category vocabulary used across the pipeline.
var SupportAreas = []string{"자금", "기술", "인력", "수출", "내수", "창업", "경영", "기타"}

// Program is one government funding/support opportunity. Programs are
// immutable within the pipeline and never persisted by it.
type Program struct {
	ID                  string   `json:"id"`
	Title               string   `json:"title"`
	Description         string   `json:"description"`
	Region              string   `json:"region"` // administering body, free text
	GeographicRegions   []string `json:"geographic_regions"`
	SupportArea         string   `json:"support_area"`
	ApplicationDeadline string   `json:"application_deadline"`
	Amount              string   `json:"amount"`
	ApplicationURL      string   `json:"application_url,omitempty"`
	AnnouncementDate    string   `json:"announcement_date,omitempty"`
}

// CombinedRegions returns the program's geographic regions plus the
// administering-body region, deduplicated. Never empty: normalization
// guarantees GeographicRegions has at least one entry.
func (p *Program) CombinedRegions() []string {
	seen := make(map[string]bool, len(p.GeographicRegions)+1)
	combined := make([]string, 0, len(p.GeographicRegions)+1)

	for _, r := range p.GeographicRegions {
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		combined = append(combined, r)
	}
	if p.Region != "" && !seen[p.Region] {
		combined = append(combined, p.Region)
	}

	return combined
}

// IsNationwide reports whether the program applies to every region.
func (p *Program) IsNationwide() bool {
	for _, r := range p.CombinedRegions() {
		if strings.Contains(r, Nationwide) {
			return true
		}
	}
	return false
}

// supportAreaSynonyms maps upstream category phrasings onto the fixed
// vocabulary. Matching is by substring, first hit wins.
var supportAreaSynonyms = []struct {
	keyword string
	area    string
}{
	{"자금", "자금"},
	{"금융", "자금"},
	{"융자", "자금"},
	{"기술", "기술"},
	{"R&D", "기술"},
	{"연구", "기술"},
	{"인력", "인력"},
	{"고용", "인력"},
	{"채용", "인력"},
	{"수출", "수출"},
	{"해외", "수출"},
	{"글로벌", "수출"},
	{"내수", "내수"},
	{"판로", "내수"},
	{"마케팅", "내수"},
	{"창업", "창업"},
	{"벤처", "창업"},
	{"경영", "경영"},
	{"컨설팅", "경영"},
}

// NormalizeSupportArea maps a raw upstream category label onto the fixed
// vocabulary, falling back to 기타 for anything unrecognized.
func NormalizeSupportArea(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "기타"
	}

	for _, area := range SupportAreas {
		if raw == area {
			return area
		}
	}
	for _, syn := range supportAreaSynonyms {
		if strings.Contains(raw, syn.keyword) {
			return syn.area
		}
	}

	return "기타"
}

// normalizeRegions splits a comma/slash separated upstream region string and
// guarantees a non-empty result: the administering-body region is the
// fallback singleton, and 전국 the fallback of last resort.
func normalizeRegions(raw, adminRegion string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == '/' || r == '·'
	})

	var regions []string
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" {
			regions = append(regions, f)
		}
	}

	if len(regions) == 0 {
		if adminRegion != "" {
			return []string{adminRegion}
		}
		return []string{Nationwide}
	}

	return regions
}
