// Package schedule triggers the periodic "run all collectors" job.
//
// Schedules are 5-field cron expressions evaluated in a configurable time
// zone (municipal sites are scraped on German wall-clock time):
//
//	minute hour day-of-month month day-of-week
//
// Fields accept values, ranges (1-5), lists (1,3,5), steps (*/15, 1-30/5)
// and the wildcard. Day-of-week accepts 0-6 (0 = Sunday) or English and
// German short names (mon, tue, ... / mo, di, ...); month accepts 1-12 or
// jan-dec. Both restricted day fields must match.
package schedule
