package hcl

import (
	"github.com/hashicorp/hcl/v2"
)

// fileRoot is used to decode all top-level blocks from any file.
type fileRoot struct {
	DAGs  []*dagBlock  `hcl:"dag,block"`
	Tasks []*taskBlock `hcl:"task,block"`
}

type dagBlock struct {
	Name           string      `hcl:"name,label"`
	Description    *string     `hcl:"description,optional"`
	Schedule       *string     `hcl:"schedule,optional"`
	StartDate      *string     `hcl:"start_date,optional"`
	EndDate        *string     `hcl:"end_date,optional"`
	Catchup        *bool       `hcl:"catchup,optional"`
	MaxActiveRuns  *int        `hcl:"max_active_runs,optional"`
	MaxParallelism *int        `hcl:"max_parallelism,optional"`
	DefaultRetry   *retryBlock `hcl:"default_retry,block"`
}

type retryBlock struct {
	MaxAttempts *int    `hcl:"max_attempts,optional"`
	Delay       *string `hcl:"delay,optional"`
	Exponential *bool   `hcl:"exponential,optional"`
}

type taskBlock struct {
	Kind      string      `hcl:"kind,label"`
	ID        string      `hcl:"id,label"`
	DependsOn []string    `hcl:"depends_on,optional"`
	Retry     *retryBlock `hcl:"retry,block"`
	Params    hcl.Body    `hcl:",remain"`
}
