package comps

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/dealdesk/internal/model"
)

// NormalizeAddress folds an address into the key used for deduplication:
// NFKC normalization, Unicode case folding and whitespace collapse.
func NormalizeAddress(addr string) string {
	s := norm.NFKC.String(addr)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

// Dedup drops comps whose normalized address was already seen, keeping the
// first occurrence. NormalizedAddress is filled on every returned comp and
// comps with a blank address are dropped.
func Dedup(comps []model.Comp) []model.Comp {
	seen := make(map[string]bool, len(comps))
	out := make([]model.Comp, 0, len(comps))
	for _, c := range comps {
		key := NormalizeAddress(c.Address)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		c.NormalizedAddress = key
		out = append(out, c)
	}
	return out
}
