// Package scheduler runs checkout work over a growing dependency tree. A fixed
// pool of workers draws nodes whose requirements are done, and the children a
// node yields are queued as soon as its work completes.
package scheduler
