// Package sample holds decoded rows between acquisition and storage.
package sample

import "time"

// Values is one storage row worth of channels.
type Values interface {
	Len() int
	Args(dst []any) []any
}

// Entry is a row and its acquisition time.
type Entry struct {
	Time   time.Time
	Values Values
}

// Batch is an ordered run of entries for one logical table.
type Batch []Entry
