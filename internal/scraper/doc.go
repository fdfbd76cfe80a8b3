// Package scraper holds the domain types and small interfaces shared by the
// price scraping pipeline: URL tasks, product fields, scrape records, batches,
// and the provider, clock, and storage contracts the pipeline is assembled from.
package scraper
