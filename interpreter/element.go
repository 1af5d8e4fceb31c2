package interpreter

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
)

// ElementKind distinguishes the two canonical booleans from other data.
type ElementKind uint8

const (
	// ElemDissatisfied is the empty byte string, canonical false.
	ElemDissatisfied ElementKind = iota

	// ElemSatisfied is the single byte 0x01, canonical true.
	ElemSatisfied

	// ElemPush is any other byte string, including a single 0x00.
	ElemPush
)

// Element is one value on the interpreter stack.
type Element struct {
	Kind ElementKind

	// Data is the pushed bytes of an ElemPush. It may alias the witness
	// or scriptSig the element was read from.
	Data []byte
}

var (
	// Satisfied is the result of a fragment that evaluated to true.
	Satisfied = Element{Kind: ElemSatisfied}

	// Dissatisfied is the result of a fragment that evaluated to false.
	Dissatisfied = Element{Kind: ElemDissatisfied}
)

// NewElement classifies a witness item. Only the exact canonical encodings
// become booleans.
func NewElement(data []byte) Element {
	switch {
	case len(data) == 0:
		return Dissatisfied
	case len(data) == 1 && data[0] == 1:
		return Satisfied
	}
	return Element{Kind: ElemPush, Data: data}
}

// elementFromOpcode classifies one scriptSig instruction. OP_1 is the only
// number opcode a satisfaction uses.
func elementFromOpcode(op byte, data []byte) (Element, error) {
	switch {
	case op == txscript.OP_0:
		return Dissatisfied, nil
	case op == txscript.OP_1:
		return Satisfied, nil
	case op <= txscript.OP_PUSHDATA4:
		return NewElement(data), nil
	}
	str := fmt.Sprintf("scriptSig opcode 0x%02x is not a push", op)
	return Element{}, evalError(ErrExpectedPush, str)
}

// Push returns the data of a push element.
func (e Element) Push() ([]byte, error) {
	if e.Kind != ElemPush {
		return nil, evalError(ErrExpectedPush,
			fmt.Sprintf("expected a push, got %v", e))
	}
	return e.Data, nil
}

// Bytes returns the witness encoding of the element.
func (e Element) Bytes() []byte {
	switch e.Kind {
	case ElemSatisfied:
		return []byte{1}
	case ElemDissatisfied:
		return []byte{}
	}
	return e.Data
}

// Equal reports whether both elements encode the same bytes.
func (e Element) Equal(o Element) bool {
	return e.Kind == o.Kind && bytes.Equal(e.Data, o.Data)
}

// String returns a short human-readable form of the element.
func (e Element) String() string {
	switch e.Kind {
	case ElemSatisfied:
		return "Satisfied"
	case ElemDissatisfied:
		return "Dissatisfied"
	}
	return fmt.Sprintf("Push(%x)", e.Data)
}
