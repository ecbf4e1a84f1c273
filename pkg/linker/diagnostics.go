package linker

import (
	"fmt"
	"github.com/rvld-cheri/rvld/pkg/utils"
)

// Diagnostics accumulates non-fatal errors so a pass that finds several
// independent problems (e.g. EFlags merging disagreeing with more than one
// object) can report all of them before the link aborts, rather than
// stopping at the first one the way utils.Fatal does. It complements
// utils.Fatal (pkg/utils/utils.go) rather than replacing it: errors that
// can't be meaningfully continued past still go through Fatal.
type Diagnostics struct {
	errors []string
}

// Add records a non-fatal error. The link is not aborted yet.
func (d *Diagnostics) Add(format string, args ...any) {
	d.errors = append(d.errors, fmt.Sprintf(format, args...))
}

// HasErrors reports whether any error has been recorded.
func (d *Diagnostics) HasErrors() bool {
	return len(d.errors) > 0
}

// Flush prints every accumulated error and exits if there were any,
// otherwise it's a no-op.
func (d *Diagnostics) Flush() {
	if !d.HasErrors() {
		return
	}
	for _, e := range d.errors {
		fmt.Println("rvld: \033[0;1;31merror:\033[0m", e)
	}
	utils.Fatal(fmt.Sprintf("%d error(s)", len(d.errors)))
}
