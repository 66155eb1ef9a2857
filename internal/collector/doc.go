// Package collector defines the contract between site-specific collectors
// and the reconciliation core, and ships the collectors built into the
// binary.
//
// A Collector walks one website and hands every event it finds to a Sink,
// one record at a time. The Sink (a reconcile.Session in production) dedups,
// validates and writes each record immediately, so a run that fails on page
// five keeps the events of pages one to four.
//
// Collectors are registered by name in a Registry built at startup. Most
// municipal calendars share a CMS and are described declaratively with a
// SelectorConfig; the same configs can be added in the YAML config file.
//
// All network access goes through a Fetcher, which waits a fixed delay
// before every request, applies the configured User-Agent and timeout,
// decodes legacy charsets and optionally honours robots.txt.
package collector
