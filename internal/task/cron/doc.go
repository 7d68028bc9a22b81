// Package cron parses six-field cron schedules and matches them against
// wall-clock instants at second granularity.
//
// Field order for one-line expressions is:
//
//	second minute hour day month weekday
//
// Weekday uses ISO numbering (1 = Monday, 7 = Sunday); 0 is accepted as Sunday.
// Day-of-month and weekday combine with OR unless both are wildcards.
package cron
