// Package fetch is the FETCH pipeline transform.
//
// It downloads a bulk-data zip for one dataset and cycle into the run's data
// directory, extracts the single data file it contains, runs the cleaning
// pass (optional Latin-1 decoding, comma-pipe collapse, quote removal), and
// maps the pipe-delimited rows onto the dataset's registered schema as a CSV
// file at the workspace's output artifact path.
package fetch
