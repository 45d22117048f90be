package mysql

import (
	"strconv"
	"strings"
)

// joinIDs renders option ids as the CSV the schema stores ("1,3,7").
// Empty input maps to "" so the column can stay NULL-ish friendly.
func joinIDs(ids []int64) string {
	if len(ids) == 0 {
		return ""
	}
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return strings.Join(parts, ",")
}

// splitIDs parses the stored CSV back; malformed entries are skipped.
func splitIDs(s string) []int64 {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []int64
	for _, p := range strings.Split(s, ",") {
		if id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64); err == nil {
			out = append(out, id)
		}
	}
	return out
}
