package cron

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrSyntax is returned for any malformed or out-of-range cron text.
var ErrSyntax = errors.New("cron syntax error")

var reNumber = regexp.MustCompile(`^\d+$`)

// Field is the parsed value set of one cron sub-expression.
//
// A Field is immutable once built. All supported ranges fit in [0,63], so
// membership is kept as a bit set next to the sorted values.
type Field struct {
	values   []int
	bits     uint64
	min, max int
	wildcard bool
}

// ParseField parses expr (e.g. "*/5", "1-10", "3,7,9") into the set of
// matching values within [min, max].
//
// A "/step" suffix strides from the part's own start bound up to the part's
// own end bound, so "5/10" is {5} and "10-40/15" is {10,25,40}. Values below
// min are skipped until the first in-range value is reached.
func ParseField(expr string, min, max int) (Field, error) {
	if min < 0 || max > 63 || min > max {
		return Field{}, fmt.Errorf("%w: unsupported bounds %d-%d", ErrSyntax, min, max)
	}

	var bits uint64
	for _, part := range strings.Split(expr, ",") {
		start, end, step, err := parsePart(part, min, max)
		if err != nil {
			return Field{}, err
		}
		// Values only increase; comparisons against the remaining distance
		// keep huge values and steps from overflowing.
		for cur := start; cur <= end && cur <= max; cur += step {
			if cur >= min {
				stop := end
				if stop > max {
					stop = max
				}
				for v := cur; ; v += step {
					bits |= 1 << uint(v)
					if step > stop-v {
						break
					}
				}
				break
			}
			if step > end-cur {
				break
			}
		}
	}
	if bits == 0 {
		return Field{}, fmt.Errorf("%w: no values parsed from %q", ErrSyntax, expr)
	}

	f := Field{bits: bits, min: min, max: max}
	for v := min; v <= max; v++ {
		if bits&(1<<uint(v)) != 0 {
			f.values = append(f.values, v)
		}
	}
	f.wildcard = len(f.values) == max-min+1
	return f, nil
}

func parsePart(part string, min, max int) (start, end, step int, err error) {
	step = 1
	if base, stepStr, ok := strings.Cut(part, "/"); ok {
		part = base
		step, err = strconv.Atoi(stepStr)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("%w: invalid step %q", ErrSyntax, stepStr)
		}
		if step < 1 {
			return 0, 0, 0, fmt.Errorf("%w: step must be >= 1: %s", ErrSyntax, stepStr)
		}
	}

	switch {
	case part == "*":
		return min, max, step, nil
	case strings.Contains(part, "-"):
		lo, hi, _ := strings.Cut(part, "-")
		start, err1 := strconv.Atoi(lo)
		end, err2 := strconv.Atoi(hi)
		if err1 != nil || err2 != nil {
			return 0, 0, 0, fmt.Errorf("%w: invalid range %q", ErrSyntax, part)
		}
		if start < min || end > max || start > end {
			return 0, 0, 0, fmt.Errorf("%w: invalid range %s for %d-%d", ErrSyntax, part, min, max)
		}
		return start, end, step, nil
	default:
		if !reNumber.MatchString(part) {
			return 0, 0, 0, fmt.Errorf("%w: invalid value %q", ErrSyntax, part)
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("%w: invalid value %q", ErrSyntax, part)
		}
		return v, v, step, nil
	}
}

// Values returns the matching values in ascending order.
func (f Field) Values() []int {
	return append([]int(nil), f.values...)
}

// Contains reports whether v is in the field's value set.
func (f Field) Contains(v int) bool {
	if v < 0 || v > 63 {
		return false
	}
	return f.bits&(1<<uint(v)) != 0
}

// Wildcard reports whether the field covers its whole range.
func (f Field) Wildcard() bool { return f.wildcard }

// Bounds returns the [min, max] range the field was parsed against.
func (f Field) Bounds() (int, int) { return f.min, f.max }

// String renders the value set as a comma separated list, or "*" for a wildcard.
func (f Field) String() string {
	if f.wildcard {
		return "*"
	}
	parts := make([]string, len(f.values))
	for i, v := range f.values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
