package advanced

import (
	"fmt"
	"strconv"
	"strings"
)

// encodeRange renders a recovery/history query's requested sn range as
// query parameters (spec.md §4.8 "a targeted Query ... asking for the
// missing sn range"). leSn==0 means unbounded, matching sampleCache's own
// convention.
func encodeRange(geSn, leSn uint64) string {
	if leSn == 0 {
		return fmt.Sprintf("_sn_ge=%d", geSn)
	}
	return fmt.Sprintf("_sn_ge=%d;_sn_le=%d", geSn, leSn)
}

// decodeRange parses the parameters encodeRange produces. geSn defaults
// to 1 (a full-history request) when absent.
func decodeRange(parameters string) (geSn, leSn uint64) {
	geSn = 1
	for _, kv := range strings.Split(parameters, ";") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			continue
		}
		switch k {
		case "_sn_ge":
			geSn = n
		case "_sn_le":
			leSn = n
		}
	}
	return geSn, leSn
}
