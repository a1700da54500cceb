// Package task defines the unit of work scheduled by the executor: its
// operation kind, parameters, retry policy and the lifecycle states a task
// moves through during a single run.
package task
