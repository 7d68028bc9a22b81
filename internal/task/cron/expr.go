package cron

import (
	"fmt"
	"strconv"
	"strings"

	robfig "github.com/robfig/cron/v3"
)

// robfig marks fields written as "*" with the top bit.
const starBit = uint64(1) << 63

var descriptorParser = robfig.NewParser(
	robfig.SecondOptional | robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow | robfig.Descriptor,
)

// ParseExpr turns a one-line schedule into a Spec.
//
// Supported forms:
//   - six fields: "second minute hour day month weekday"
//   - five fields: "minute hour day month weekday" (second is "0")
//   - descriptors: "@daily", "@midnight", "@hourly"
//
// Descriptors are expanded with robfig/cron. Descriptors that restrict only
// one of day-of-month / weekday ("@weekly", "@monthly", "@yearly") are
// rejected: with OR date semantics a wildcard on the other field would match
// every day.
func ParseExpr(expr string) (Spec, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return Spec{}, fmt.Errorf("%w: empty expression", ErrSyntax)
	}
	if strings.HasPrefix(s, "@") {
		return parseDescriptor(s)
	}

	f := strings.Fields(s)
	switch len(f) {
	case 6:
		return Spec{Second: f[0], Minute: f[1], Hour: f[2], Day: f[3], Month: f[4], Weekday: f[5]}, nil
	case 5:
		return Spec{Second: "0", Minute: f[0], Hour: f[1], Day: f[2], Month: f[3], Weekday: f[4]}, nil
	default:
		return Spec{}, fmt.Errorf("%w: expected 5 or 6 fields, got %d in %q", ErrSyntax, len(f), expr)
	}
}

func parseDescriptor(desc string) (Spec, error) {
	if strings.HasPrefix(desc, "@every") {
		return Spec{}, fmt.Errorf("%w: interval descriptor %q is not a cron schedule", ErrSyntax, desc)
	}
	sched, err := descriptorParser.Parse(desc)
	if err != nil {
		return Spec{}, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	spec, ok := sched.(*robfig.SpecSchedule)
	if !ok {
		return Spec{}, fmt.Errorf("%w: unsupported descriptor %q", ErrSyntax, desc)
	}
	if (spec.Dom&starBit != 0) != (spec.Dow&starBit != 0) {
		return Spec{}, fmt.Errorf("%w: descriptor %q restricts only one of day/weekday; spell out both fields", ErrSyntax, desc)
	}
	return Spec{
		Second:  renderBits(spec.Second, 0, 59),
		Minute:  renderBits(spec.Minute, 0, 59),
		Hour:    renderBits(spec.Hour, 0, 23),
		Day:     renderBits(spec.Dom, 1, 31),
		Month:   renderBits(spec.Month, 1, 12),
		Weekday: renderBits(spec.Dow, 0, 6),
	}, nil
}

func renderBits(bits uint64, min, max int) string {
	if bits&starBit != 0 {
		return "*"
	}
	var parts []string
	for v := min; v <= max; v++ {
		if bits&(1<<uint(v)) != 0 {
			parts = append(parts, strconv.Itoa(v))
		}
	}
	return strings.Join(parts, ",")
}
