package backend

import "bytes"

// All returns a range matching every sorter
func All() Range {
	return Range{}
}

// Range represents all sorter byte keys k such that
//
//	k >= Min and k < Max
//
// Min = nil indicates the start of all keys. Max = nil indicates
// the end of all keys. Documents without a sorter fall outside any
// bounded range.
type Range struct {
	Min []byte
	Max []byte
}

// Gte confines the range to keys greater than or equal to k
func (r Range) Gte(k []byte) Range {
	if k != nil && (r.Min == nil || bytes.Compare(k, r.Min) > 0) {
		r.Min = k
	}

	return r
}

// Lt confines the range to keys less than k
func (r Range) Lt(k []byte) Range {
	if k != nil && (r.Max == nil || bytes.Compare(k, r.Max) < 0) {
		r.Max = k
	}

	return r
}

// Contains returns true if k falls within the range
func (r Range) Contains(k []byte) bool {
	if r.Min != nil && bytes.Compare(k, r.Min) < 0 {
		return false
	}

	if r.Max != nil && bytes.Compare(k, r.Max) >= 0 {
		return false
	}

	return true
}

// Unbounded returns true if the range matches every sorter
func (r Range) Unbounded() bool {
	return r.Min == nil && r.Max == nil
}
