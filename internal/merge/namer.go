package merge

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// datePrefixLayout is the compact capture date prepended to renamed files.
const datePrefixLayout = "20060102"

// suffixWarnThreshold is the attempt count past which the suffix search is
// logged as an anomaly. The search itself stays unbounded.
const suffixWarnThreshold = 1000

// renameName builds the attempt-th disambiguation candidate for base:
// "20240501_beach.jpg", then "20240501_beach_0.jpg", "20240501_beach_1.jpg",
// and so on.
func renameName(base string, ts time.Time, attempt int) string {
	prefixed := ts.Format(datePrefixLayout) + "_" + base
	if attempt == 0 {
		return prefixed
	}
	ext := filepath.Ext(prefixed)
	stem := strings.TrimSuffix(prefixed, ext)
	return fmt.Sprintf("%s_%d%s", stem, attempt-1, ext)
}
