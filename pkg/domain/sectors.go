package domain

import (
	"encoding/json"
	"strings"
)

// SectorVocabulary is the fixed set of sector tags the analyzer is asked to
// choose from. The analyzer output is not re-validated against it, tags are
// passed through as returned.
var SectorVocabulary = []string{
	"Technology", "Healthcare", "Finance", "Energy", "Consumer",
	"Industrial", "Real Estate", "Utilities", "Materials", "Communications",
	"Crypto", "Commodities", "Bonds", "Broad Market",
}

// ParseSectors normalizes a stored sector list. Older rows keep sectors as a
// comma-joined string while newer ones store a JSON array; both forms must
// produce the same result, so every consumer goes through this one function.
func ParseSectors(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var sectors []string
	if err := json.Unmarshal([]byte(raw), &sectors); err == nil {
		res := make([]string, 0, len(sectors))
		for _, s := range sectors {
			if s = strings.TrimSpace(s); s != "" {
				res = append(res, s)
			}
		}
		return res
	}

	var res []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			res = append(res, s)
		}
	}
	return res
}

// JoinSectors serializes sector tags for storage as a JSON array
func JoinSectors(sectors []string) string {
	if len(sectors) == 0 {
		return "[]"
	}
	data, err := json.Marshal(sectors)
	if err != nil {
		return "[]"
	}
	return string(data)
}
