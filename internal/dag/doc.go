// Package dag holds the pipeline definition and its compiled dependency
// graph.
//
// A Definition is assembled explicitly with AddTask and AddEdge; there is no
// package-level registry. Compile validates the definition (unknown edge
// endpoints, cycles, operator-level task validation) and produces an
// immutable Graph. The executor asks the Graph for ready and cascading tasks
// on every scheduling iteration, since readiness changes as tasks succeed or
// fail.
package dag
