// Package cluster turns sampled evidence into persistent knowledge clusters.
//
// The builder works in two modes. Extractive synthesis is pure string work:
// the cluster's name comes from the query, its content is the evidence spans
// themselves, and patterns and constraints are mined from indicative
// sentences. LLM synthesis asks the model for a structured summary instead,
// falling back to the extractive path when the call fails so a cluster is
// always produced.
//
// Every build verifies the files its evidence references. A missing file is
// flagged as a broken_reference constraint and recorded in the scan
// metadata; the evidence itself is never dropped.
package cluster
