// Package app contains the core application logic. It wires configuration,
// the warehouse, the object stores, and the operator registry into a compiled
// DAG, and exposes single runs and the scheduled loop independently of any
// entrypoint like a CLI or server.
package app
