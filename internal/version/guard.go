package version

import (
	"fmt"
	"strings"

	"github.com/hostwright/drover/internal/runlog"
)

// Guard decides whether an apply run may proceed, by comparing the
// declared platform version against the last one recorded in the
// summary log. The guard fails open: only a prior version that is
// provably newer blocks the run. Anything it cannot read or compare
// lets the run through, because refusing to apply on a fresh or
// damaged host would be worse than skipping the check.
type Guard struct {
	SummaryLog string
}

// Decision is the guard's verdict. Reason is human-readable and meant
// for the run log; it is empty for an ordinary proceed.
type Decision struct {
	Proceed bool
	Reason  string
	Prior   string
}

// Check compares the declared version against the last recorded
// "platform" metadata value in the summary log.
func (g Guard) Check(declared string) Decision {
	declared = strings.TrimSpace(declared)
	if declared == "" {
		return Decision{Proceed: true, Reason: "no declared platform version, skipping downgrade check"}
	}
	want, err := Parse(declared)
	if err != nil {
		return Decision{Proceed: true, Reason: fmt.Sprintf("declared platform version %q is not comparable, skipping downgrade check", declared)}
	}

	rec, found, err := runlog.LastRecordWith(g.SummaryLog, runlog.KeyPlatform)
	if err != nil {
		return Decision{Proceed: true, Reason: fmt.Sprintf("cannot read summary log (%v), skipping downgrade check", err)}
	}
	if !found {
		return Decision{Proceed: true, Reason: "no prior apply recorded, skipping downgrade check"}
	}

	priorText := rec.Info[runlog.KeyPlatform]
	prior, err := Parse(priorText)
	if err != nil {
		return Decision{Proceed: true, Reason: fmt.Sprintf("recorded platform version %q is not comparable, skipping downgrade check", priorText)}
	}

	if Compare(prior, want) > 0 {
		return Decision{
			Proceed: false,
			Prior:   prior.String(),
			Reason:  fmt.Sprintf("declared platform version %s is older than last applied %s", want, prior),
		}
	}
	return Decision{Proceed: true, Prior: prior.String()}
}
