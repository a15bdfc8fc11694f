package highload

import "fmt"

// Highload wallet v3 query id space: 13-bit shift + 10-bit bit number.
// The pair (MaxShift, MaxBitNumber) is reserved by the contract and never issued.
const (
	MaxShift     = 8191
	MaxBitNumber = 1022

	queryIDBits = 23
)

// QueryID position inside the highload wallet dedup dictionary
type QueryID struct {
	Shift     uint16
	BitNumber uint16
}

// FromUint decodes the 23-bit wire form
func FromUint(v uint32) (QueryID, error) {
	if v >= 1<<queryIDBits {
		return QueryID{}, fmt.Errorf("query id %d exceeds %d bits", v, queryIDBits)
	}
	q := QueryID{Shift: uint16(v >> 10), BitNumber: uint16(v & 1023)}
	if q.BitNumber > MaxBitNumber {
		return QueryID{}, fmt.Errorf("query id %d has bit number %d out of range", v, q.BitNumber)
	}
	return q, nil
}

// Uint encodes the query id as shift<<10 | bit_number
func (q QueryID) Uint() uint32 {
	return uint32(q.Shift)<<10 | uint32(q.BitNumber)
}

// HasNext reports whether the query id is not the last one of the space
func (q QueryID) HasNext() bool {
	return !(q.Shift == MaxShift && q.BitNumber >= MaxBitNumber-1)
}

// Next returns the following query id, wrapping to zero at the end of the space
func (q QueryID) Next() QueryID {
	if !q.HasNext() {
		return QueryID{}
	}
	if q.BitNumber >= MaxBitNumber {
		return QueryID{Shift: q.Shift + 1}
	}
	return QueryID{Shift: q.Shift, BitNumber: q.BitNumber + 1}
}

func (q QueryID) String() string {
	return fmt.Sprintf("%d:%d", q.Shift, q.BitNumber)
}
