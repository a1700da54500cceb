// Package operator holds the execution strategies behind each task kind and
// the closed registry that maps a kind to its strategy.
//
// Operators classify their own failures. A *FatalError goes straight to
// Failed. Anything else is treated as transient and retried according to
// the task's retry policy.
package operator
