package ingest

import (
	"strings"

	"github.com/vmsplus/usersync/internal/core"
)

// Normalize maps raw field maps into canonical user records, filling
// structural gaps only: a missing status defaults to Active and missing
// optional fields default to empty. It does not validate; the validator can
// assume every field is present afterwards.
func Normalize(records []RawRecord) []core.UserRecord {
	out := make([]core.UserRecord, len(records))
	for i, raw := range records {
		out[i] = core.UserRecord{
			Row:        raw.Row,
			Email:      raw.Fields["email"],
			FirstName:  raw.Fields["firstname"],
			LastName:   raw.Fields["lastname"],
			Department: raw.Fields["department"],
			Status:     normalizeStatus(raw.Fields["status"]),
		}
	}
	return out
}

// normalizeStatus defaults empty input to Active and canonicalizes the
// casing of recognized values. Unrecognized values pass through unchanged so
// the validator can report exactly what the file contained.
func normalizeStatus(s string) core.Status {
	if s == "" {
		return core.StatusActive
	}
	for _, v := range core.Statuses {
		if strings.EqualFold(string(v), s) {
			return v
		}
	}
	return core.Status(s)
}
