// Package decode maps register blocks read from a genset controller to named,
// scaled readings.
package decode

import (
	"errors"
	"fmt"
	"sort"

	mb "github.com/goburrow/modbus"
)

// Kind identifies a decoded block.
type Kind string

const Unknown Kind = "unknown"

// Block is the result of decoding one response. It is built fresh per call and
// must not be modified by callers.
type Block struct {
	Kind         Kind
	FunctionCode byte
	Address      uint16
	Fields       map[string]any
	// Raw is only populated for Unknown blocks.
	Raw []uint16
}

// Rule extracts fields from a block starting at Address holding at least
// MinCount registers. Extract sees exactly the registers of the response and
// may rely on len(regs) >= MinCount.
type Rule struct {
	Kind     Kind
	Address  uint16
	MinCount int
	// Provisional marks rules whose word order or bit meanings were inferred
	// from observed traffic rather than vendor documentation.
	Provisional bool
	Extract     func(regs []uint16) map[string]any
}

var ErrAmbiguousRule = errors.New("decode: ambiguous rule")

// Engine is an immutable rule table.
type Engine struct {
	byAddress map[uint16][]Rule
}

// NewEngine validates rules and indexes them by address. Two rules with the
// same address and MinCount are rejected.
func NewEngine(rules []Rule) (*Engine, error) {
	e := &Engine{byAddress: make(map[uint16][]Rule)}
	seen := make(map[[2]int]Kind)
	for _, r := range rules {
		if r.Extract == nil {
			return nil, fmt.Errorf("decode: rule %q has no extractor", r.Kind)
		}
		if r.MinCount <= 0 {
			return nil, fmt.Errorf("decode: rule %q needs a positive register count", r.Kind)
		}
		key := [2]int{int(r.Address), r.MinCount}
		if prev, ok := seen[key]; ok {
			return nil, fmt.Errorf("%w: %q and %q both claim address %d with %d registers",
				ErrAmbiguousRule, prev, r.Kind, r.Address, r.MinCount)
		}
		seen[key] = r.Kind
		e.byAddress[r.Address] = append(e.byAddress[r.Address], r)
	}
	for addr := range e.byAddress {
		rs := e.byAddress[addr]
		sort.SliceStable(rs, func(i, j int) bool { return rs[i].MinCount > rs[j].MinCount })
	}
	return e, nil
}

// MustEngine is NewEngine for statically declared tables.
func MustEngine(rules []Rule) *Engine {
	e, err := NewEngine(rules)
	if err != nil {
		panic(err)
	}
	return e
}

// Decode applies the most specific rule for start that the register count
// satisfies. Unmatched blocks come back as Unknown carrying the raw registers.
func (e *Engine) Decode(functionCode byte, start uint16, regs []uint16) Block {
	if functionCode == mb.FuncCodeReadHoldingRegisters || functionCode == mb.FuncCodeReadInputRegisters {
		for _, r := range e.byAddress[start] {
			if len(regs) < r.MinCount {
				continue
			}
			return Block{
				Kind:         r.Kind,
				FunctionCode: functionCode,
				Address:      start,
				Fields:       r.Extract(regs),
			}
		}
	}
	return Block{
		Kind:         Unknown,
		FunctionCode: functionCode,
		Address:      start,
		Fields:       map[string]any{},
		Raw:          append([]uint16(nil), regs...),
	}
}

// Rules returns the table in address order, most specific rule first.
func (e *Engine) Rules() []Rule {
	addrs := make([]int, 0, len(e.byAddress))
	for a := range e.byAddress {
		addrs = append(addrs, int(a))
	}
	sort.Ints(addrs)
	var out []Rule
	for _, a := range addrs {
		out = append(out, e.byAddress[uint16(a)]...)
	}
	return out
}
