// Package viz renders fits in the terminal.
//
//   - [Report]: lipgloss table of fitted parameters with standard errors
//   - [Chart]: asciigraph overlay of measured samples and a fitted curve
//   - [RunLive]: Bubble Tea view that follows a running fit
//
// # Key Bindings (live view)
//
//	Q / Ctrl+C - Cancel the fit; the best parameters so far are kept
package viz
