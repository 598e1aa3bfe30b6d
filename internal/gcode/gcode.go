// Package gcode extracts command codes from raw G-code lines.
package gcode

import (
	"strconv"
	"strings"
)

// Code returns the command code of a G-code line, e.g. "G1" for
// "N12 G01 X10 Y5*71" or "SET_HEATER_TEMPERATURE" for a Klipper extended
// command. Comments, line numbers and checksums are ignored. An empty
// string means the line carries no command.
func Code(line string) string {
	line = stripComments(line)
	if i := strings.IndexByte(line, '*'); i >= 0 {
		line = line[:i]
	}

	fields := strings.Fields(line)
	if len(fields) > 0 && isLineNumber(fields[0]) {
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return ""
	}

	word := strings.ToUpper(fields[0])
	switch word[0] {
	case 'G', 'M', 'T':
		if n, ok := classicNumber(word[1:]); ok {
			return word[:1] + n
		}
	}
	return word
}

func stripComments(line string) string {
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	for {
		open := strings.IndexByte(line, '(')
		if open < 0 {
			return line
		}
		end := strings.IndexByte(line[open:], ')')
		if end < 0 {
			return line[:open]
		}
		line = line[:open] + " " + line[open+end+1:]
	}
}

func isLineNumber(word string) bool {
	if len(word) < 2 || (word[0] != 'N' && word[0] != 'n') {
		return false
	}
	_, err := strconv.Atoi(word[1:])
	return err == nil
}

// classicNumber normalizes the numeric part of G/M/T words: "01" -> "1",
// "28.1" stays "28.1".
func classicNumber(s string) (string, bool) {
	whole, frac, hasFrac := strings.Cut(s, ".")
	n, err := strconv.Atoi(whole)
	if err != nil || n < 0 || strings.HasPrefix(whole, "+") {
		return "", false
	}
	if !hasFrac {
		return strconv.Itoa(n), true
	}
	if _, err := strconv.Atoi(frac); err != nil || frac == "" {
		return "", false
	}
	return strconv.Itoa(n) + "." + frac, true
}
