// Command fecingest runs the FETCH and STAGE ingestion pipelines against the
// local run ledger.
//
// "fecingest run fetch --set name=indiv --set cycle=2024 ..." enqueues a FETCH
// run and processes the ledger in-process until the chain drains; the exit
// status is 1 when any run of the chain failed. "fecingest daemon" keeps a
// dispatcher running for runs queued with "fecingest submit".
package main
