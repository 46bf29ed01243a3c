// Package retriever orchestrates keyword planning and text-search dispatch
// into a ranked candidate file list, without any pre-built index.
//
// # Priority-hit search
//
// The keyword planner emits levels from coarse (broad OR of salient terms) to
// fine (exact phrase). Levels are tried strictly in order; the first level
// whose deduplicated match count reaches the minimum-hit threshold wins and
// no finer level is ever dispatched. This bounds worst-case search cost on
// large corpora while degrading gracefully on sparse ones: when no level
// reaches the threshold, the level that produced the most hits is used.
//
// # Ranking
//
// Candidates are scored TF-IDF style over the winning level's terms with two
// deliberate biases: a length-normalization penalty so match density rather
// than absolute count drives rank, and a filename/title bonus so a hit in the
// file name or detected document title outweighs an equivalent in-body hit.
// Ties break by most-recent modification time, then lexicographic path, so
// identical inputs always produce byte-identical ordering.
package retriever
