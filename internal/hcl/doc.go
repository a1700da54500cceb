// Package hcl loads DAG definitions from HCL files.
//
// A definition is spread over any number of .hcl files holding exactly one
// dag block and any number of task blocks:
//
//	dag "sparkify" {
//	  schedule   = "0 * * * *"
//	  start_date = "2019-01-12"
//	  default_retry {
//	    max_attempts = 3
//	    delay        = "5m"
//	  }
//	}
//
//	task "stage" "stage_events" {
//	  depends_on      = ["begin"]
//	  table           = "staging_events"
//	  source_location = "s3://udacity-dend/log_data"
//	  file_format     = "json"
//	}
//
// Every task attribute other than depends_on becomes an operator param.
// Expressions may reference var.<name> for loader variables and call the
// usual string functions (upper, lower, format, join, ...).
package hcl
