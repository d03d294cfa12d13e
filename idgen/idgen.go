// Package idgen produces run identifiers. A Generator is injected into the
// runner so tests can pin ids.
package idgen

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator of RFC 9562 UUID v7 strings. They sort by
// creation time, so run listings and output directories sort naturally.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends prefix to every id of gen.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Timestamped returns ids formatted "20060102T150405Z_<suffix>", used for
// per-run output directory names.
func Timestamped(gen Generator) Generator {
	return timestamped(gen, time.Now)
}

func timestamped(gen Generator, now func() time.Time) Generator {
	return func() string {
		return now().UTC().Format("20060102T150405Z") + "_" + gen()
	}
}

// RunPrefix marks run ids.
const RunPrefix = "run_"

// Run is the default run id generator.
var Run Generator = Prefixed(RunPrefix, UUIDv7())

// ParseRun validates a run id and returns it in canonical form.
func ParseRun(s string) (string, error) {
	rest, ok := strings.CutPrefix(s, RunPrefix)
	if !ok {
		return "", fmt.Errorf("idgen: run id %q: missing %q prefix", s, RunPrefix)
	}
	u, err := uuid.Parse(rest)
	if err != nil {
		return "", fmt.Errorf("idgen: run id %q: %w", s, err)
	}
	return RunPrefix + u.String(), nil
}
