// Package ui renders terminal output for the miyo-bridge CLI.
//
// Components are built with Lipgloss and follow a "render once and print"
// pattern:
//
//   - Header: command banner with the operation and its parameters
//   - Result: success, warning and failure boxes
//   - Tables: circuits, scanned cubes and configured cubes
//   - Confirm: a yes/no prompt behind a warning box
//
// Pairing is the one interactive screen. PairingModel is a Bubble Tea model
// that retries the link request while the user walks to the cube and presses
// its pairing button, with a spinner and a countdown bar. Pair offers the
// same retry loop without a terminal, for scripts and service managers.
//
//	token, err := ui.RunPairing(ctx, client.Link, ui.PairingOptions{}, os.Stdin, os.Stdout)
//
// Logging is controlled by MIYO_LOG_LEVEL. When it is unset zap is silent so
// the styled output stays clean.
package ui
