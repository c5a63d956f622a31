// Package logging sets up structured JSON logging for FrameFind. Records
// go to a size-rotated file under ~/.framefind/logs/ and, when configured,
// are mirrored to stderr.
package logging
