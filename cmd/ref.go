package main

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-dedupe/internal/record"
)

// parseRef parses a "kind:id" record reference from the command line.
func parseRef(s string) (record.Ref, error) {
	kind, idStr, ok := strings.Cut(s, ":")
	if !ok {
		return record.Ref{}, eris.Errorf("%q is not a kind:id reference", s)
	}

	k := record.Kind(kind)
	if !k.Valid() {
		return record.Ref{}, eris.Errorf("%q is not a record kind", kind)
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		return record.Ref{}, eris.Errorf("%q is not a record id", idStr)
	}
	return record.Ref{Kind: k, ID: id}, nil
}
