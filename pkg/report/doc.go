// Package report renders runs and their result trees.
//
// Text output shows the tree with the expected and actual values of failed
// comparisons inline. JSON and YAML output carry the full tree including all
// messages, suitable for archiving or feeding into other tools.
package report
