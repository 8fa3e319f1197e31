// Package model holds the value objects paired during a traversal:
// participants (one side's value plus its resolution outcome) and paired
// nodes (both sides at one position of the declared tree).
package model
