// Command dashd runs the tiered claim/evidence knowledge store: the HTTP
// API and background maintenance loops, plus one-shot ingest/retrieve/
// segment/placement operations for scripting and operations.
package main

func main() {
	Execute()
}
