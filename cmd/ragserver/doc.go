// Command ragserver runs the campus news RAG service: a crawler that
// ingests articles into a local vector index and an HTTP API that answers
// questions over the indexed content.
package main
