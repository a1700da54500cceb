// Package warehouse is the reference SQL warehouse collaborator. A Pool maps
// opaque connection ids onto database/sql handles; operators borrow a scoped
// Session for the duration of one attempt and must close it on every path.
//
// The pool never inspects SQL. Dialect specifics are limited to identifier
// quoting and placeholder style.
package warehouse
