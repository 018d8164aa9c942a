// Package report renders run outputs for inspection: a PNG of the Plan and
// Sim field masks in the beam frame and an HTML dose-slice scatter.
package report
