// Package watcher observes hot folders and reports files once their writes
// have settled.
//
// A Watcher owns its status (STARTING, STARTED, STOPPING, STOPPED) and
// publishes every change on Statuses. Stable files arrive on Files and
// observation errors on Errors; the three streams are independent so a
// slow consumer of one does not hide the others.
package watcher
