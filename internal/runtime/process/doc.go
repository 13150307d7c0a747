// Package process launches the supervised command and signals its process group.
//
// The child always leads a fresh process group whose id equals its pid, so a
// single signal addressed to the group reaches every descendant that did not
// deliberately leave it. The supervisor's own group is never touched.
//
// Full process-group termination is only guaranteed on Unix systems. On Linux
// the exit of the child is observed with waitid(WNOWAIT) before it is reaped,
// which keeps the group id reserved until the caller has decided whether to
// signal it. Other Unix systems reap immediately. On Windows the supervisor
// offers best-effort semantics: the direct child is killed but grandchildren
// may remain running.
package process
