package main

import (
	"github.com/fatih/color"
)

// Result highlighting. fatih/color disables itself when stdout is not a terminal.
var (
	highlight = color.New(color.Bold).SprintFunc()
	success   = color.New(color.FgGreen).SprintFunc()
	muted     = color.New(color.Faint).SprintFunc()
	attention = color.New(color.FgYellow).SprintFunc()
)
