// Package logs reads the miyu log file for `miyu logs`.
//
// Tail returns the last lines of the file together with the byte offset to
// resume from; Follow keeps polling that offset until the context ends. A
// missing file is treated as empty so the command works before the first
// session has logged anything.
package logs
