// Package main wires together the lesson tracker binary.
package main

import "github.com/JakeFAU/lesson-progress-tracker/internal/cli"

// main defers all execution to the command tree.
func main() {
	cli.Execute()
}
