// Package valuekind describes the scalar interpretation of a contiguous
// tuple of 1, 2 or 4 sixteen-bit registers.
package valuekind

import (
	"fmt"
	"math/big"
)

// Kind enumerates the supported register-tuple interpretations.
type Kind int

const (
	I16 Kind = iota
	U16
	I32
	U32
	I64
	U64
)

func (k Kind) String() string {
	switch k {
	case I16:
		return "INT16"
	case U16:
		return "UINT16"
	case I32:
		return "INT32"
	case U32:
		return "UINT32"
	case I64:
		return "INT64"
	case U64:
		return "UINT64"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind maps the config-file spelling onto a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "INT16":
		return I16, nil
	case "UINT16":
		return U16, nil
	case "INT32":
		return I32, nil
	case "UINT32":
		return U32, nil
	case "INT64":
		return I64, nil
	case "UINT64":
		return U64, nil
	default:
		return 0, fmt.Errorf("valuekind: unknown value_type %q", s)
	}
}

// Signed reports whether the kind's domain is signed.
func (k Kind) Signed() bool {
	switch k {
	case I16, I32, I64:
		return true
	default:
		return false
	}
}

// WordCount reports how many 16-bit registers back one value of this kind.
func (k Kind) WordCount() int {
	switch k {
	case I16, U16:
		return 1
	case I32, U32:
		return 2
	case I64, U64:
		return 4
	default:
		return 0
	}
}

// Min returns the smallest value representable in this kind's domain.
func (k Kind) Min() *big.Int {
	switch k {
	case I16:
		return big.NewInt(-1 << 15)
	case U16:
		return big.NewInt(0)
	case I32:
		return big.NewInt(-1 << 31)
	case U32:
		return big.NewInt(0)
	case I64:
		return big.NewInt(-1 << 63)
	case U64:
		return big.NewInt(0)
	default:
		return big.NewInt(0)
	}
}

// Max returns the largest value representable in this kind's domain.
func (k Kind) Max() *big.Int {
	switch k {
	case I16:
		return big.NewInt(1<<15 - 1)
	case U16:
		return big.NewInt(1<<16 - 1)
	case I32:
		return big.NewInt(1<<31 - 1)
	case U32:
		return big.NewInt(1<<32 - 1)
	case I64:
		return big.NewInt(1<<63 - 1)
	case U64:
		u := new(big.Int).Lsh(big.NewInt(1), 64)
		return u.Sub(u, big.NewInt(1))
	default:
		return big.NewInt(0)
	}
}

// Contains reports whether x lies within this kind's representable range.
func (k Kind) Contains(x *big.Int) bool {
	return x.Cmp(k.Min()) >= 0 && x.Cmp(k.Max()) <= 0
}
