// Package command adapts an external program to job.TaskExecutor, so any
// encoder CLI can serve as the render task.
//
// For every attempt the program is started with the job payload on stdin.
// Lines of the form
//
//	progress <percent> [stage]
//
// on stdout are forwarded as progress reports; other output is logged at
// debug level. A zero exit status completes the attempt. Cancellation sends
// SIGINT and, after the wait delay, kills the process.
package command
