// Package cigar parses CIGAR strings as persisted in alignment rows.
// The grammar is (<len><op>)+ with op in {M,I,D,N,S,H,P,=,X,B}; soft
// and hard clips may occur only at the read ends (hard outside soft).
package cigar

import (
	"github.com/pkg/errors"
)

// Op is one CIGAR operation.
type Op struct {
	Len  int
	Type byte
}

// Cigar is a parsed CIGAR string.
type Cigar []Op

func consumesQuery(op byte) bool {
	switch op {
	case 'M', 'I', 'S', '=', 'X':
		return true
	}
	return false
}

func consumesReference(op byte) bool {
	switch op {
	case 'M', 'D', 'N', '=', 'X':
		return true
	}
	return false
}

func validOp(op byte) bool {
	switch op {
	case 'M', 'I', 'D', 'N', 'S', 'H', 'P', '=', 'X', 'B':
		return true
	}
	return false
}

// Parse parses and validates s. "*" yields an empty Cigar.
func Parse(s string) (Cigar, error) {
	if s == "*" || s == "" {
		return nil, nil
	}
	var (
		c        Cigar
		n        int
		haveLen  bool
		softEnd  bool
		hardEnd  bool
		prevType byte
	)
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b >= '0' && b <= '9' {
			n = 10*n + int(b-'0')
			haveLen = true
			continue
		}
		if !validOp(b) {
			return nil, errors.Errorf("invalid CIGAR operation %q in %q", b, s)
		}
		if !haveLen {
			return nil, errors.Errorf("missing length for operation %q in %q", b, s)
		}
		if hardEnd {
			return nil, errors.Errorf("operation after trailing hard clip in %q", s)
		}
		switch b {
		case 'H':
			if len(c) > 0 {
				hardEnd = true
			}
		case 'S':
			if len(c) > 0 && prevType != 'H' {
				softEnd = true
			}
		default:
			if softEnd {
				return nil, errors.Errorf("operation after trailing soft clip in %q", s)
			}
		}
		c = append(c, Op{Len: n, Type: b})
		prevType = b
		n = 0
		haveLen = false
	}
	if haveLen {
		return nil, errors.Errorf("truncated CIGAR %q", s)
	}
	return c, nil
}

// QLen returns the query length implied by the operations.
func (c Cigar) QLen() int {
	var n int
	for _, op := range c {
		if consumesQuery(op.Type) {
			n += op.Len
		}
	}
	return n
}

// RLen returns the reference span implied by the operations.
func (c Cigar) RLen() int {
	var n int
	for _, op := range c {
		if consumesReference(op.Type) {
			n += op.Len
		}
	}
	return n
}

// LeftClipped reports whether the alignment starts with a clip
// followed by an aligned block (S…M or H…M shape).
func (c Cigar) LeftClipped() bool {
	if len(c) == 0 || (c[0].Type != 'S' && c[0].Type != 'H') {
		return false
	}
	for _, op := range c[1:] {
		if op.Type == 'M' {
			return true
		}
	}
	return false
}

// RightClipped reports whether the alignment ends with a clip
// following an aligned block (M…S or M…H shape).
func (c Cigar) RightClipped() bool {
	n := len(c)
	if n == 0 || (c[n-1].Type != 'S' && c[n-1].Type != 'H') {
		return false
	}
	for _, op := range c[:n-1] {
		if op.Type == 'M' {
			return true
		}
	}
	return false
}
