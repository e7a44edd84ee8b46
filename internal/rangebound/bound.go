// Package rangebound holds sign-polymorphic acceptance thresholds tagged
// by their expected valuekind.Kind.
package rangebound

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"fieldagent/internal/valuekind"
)

// RangeError reports a threshold literal that cannot be represented in
// its declared value kind.
type RangeError struct {
	Literal string
	Kind    valuekind.Kind
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("rangebound: %q out of range for %v", e.Literal, e.Kind)
}

// KindMismatch reports an accessor called against the wrong domain.
type KindMismatch struct {
	Kind   valuekind.Kind
	Wanted string
}

func (e *KindMismatch) Error() string {
	return fmt.Sprintf("rangebound: %v is not %s", e.Kind, e.Wanted)
}

// Bound holds one threshold value, interpreted as signed or unsigned
// according to Kind.
type Bound struct {
	kind     valuekind.Kind
	signed   int64
	unsigned uint64
}

// MinOf returns the bound sitting at the minimum of kind's domain.
func MinOf(kind valuekind.Kind) Bound {
	if kind.Signed() {
		return Bound{kind: kind, signed: kind.Min().Int64()}
	}
	return Bound{kind: kind, unsigned: kind.Min().Uint64()}
}

// MaxOf returns the bound sitting at the maximum of kind's domain.
func MaxOf(kind valuekind.Kind) Bound {
	if kind.Signed() {
		return Bound{kind: kind, signed: kind.Max().Int64()}
	}
	return Bound{kind: kind, unsigned: kind.Max().Uint64()}
}

// Parse reads a textual threshold: decimal, "0x"-prefixed hex, or
// "0"-prefixed octal. Negative literals are rejected for unsigned
// kinds; out-of-range literals are rejected for any kind.
func Parse(literal string, kind valuekind.Kind) (Bound, error) {
	lit := strings.TrimSpace(literal)

	if kind.Signed() {
		v, err := strconv.ParseInt(lit, 0, 64)
		if err != nil {
			return Bound{}, &RangeError{Literal: literal, Kind: kind}
		}
		if !kind.Contains(big.NewInt(v)) {
			return Bound{}, &RangeError{Literal: literal, Kind: kind}
		}
		return Bound{kind: kind, signed: v}, nil
	}

	if strings.HasPrefix(lit, "-") {
		return Bound{}, &RangeError{Literal: literal, Kind: kind}
	}
	v, err := strconv.ParseUint(lit, 0, 64)
	if err != nil {
		return Bound{}, &RangeError{Literal: literal, Kind: kind}
	}
	if !kind.Contains(new(big.Int).SetUint64(v)) {
		return Bound{}, &RangeError{Literal: literal, Kind: kind}
	}
	return Bound{kind: kind, unsigned: v}, nil
}

// Kind reports the domain this bound was constructed for.
func (b Bound) Kind() valuekind.Kind { return b.kind }

// AsSigned returns the bound's value in the signed domain. It fails if
// the bound was constructed for an unsigned kind.
func (b Bound) AsSigned() (int64, error) {
	if !b.kind.Signed() {
		return 0, &KindMismatch{Kind: b.kind, Wanted: "signed"}
	}
	return b.signed, nil
}

// AsUnsigned returns the bound's value in the unsigned domain. It fails
// if the bound was constructed for a signed kind.
func (b Bound) AsUnsigned() (uint64, error) {
	if b.kind.Signed() {
		return 0, &KindMismatch{Kind: b.kind, Wanted: "unsigned"}
	}
	return b.unsigned, nil
}
