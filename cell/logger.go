/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package cell

import "log"

// Logger is the narrow logging seam a Manager writes its watcher
// diagnostics through. memcp itself logs straight to the
// standard library's log package throughout storage/*.go rather than
// adopting a structured-logging dependency, so the default here
// follows suit instead of reaching for one.
type Logger interface {
	Printf(format string, args ...any)
}

// stdLogger adapts the standard library's *log.Logger to Logger.
type stdLogger struct{ l *log.Logger }

func (s stdLogger) Printf(format string, args ...any) { s.l.Printf(format, args...) }

// defaultLogger returns the package default, backed by log.Default();
// the "cell:" prefix is part of each message's format string.
func defaultLogger() Logger {
	return stdLogger{l: log.Default()}
}
