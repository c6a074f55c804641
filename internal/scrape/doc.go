// Package scrape defines the core types and ports shared by the scrape
// orchestrator: scraper configuration, jobs, worker log records, and the
// store/worker interfaces the control loop depends on. It must not import
// drivers or concrete clients.
package scrape
