package interpreter

import (
	"fmt"

	"github.com/btcsuite/miniscript/miniscript"
)

// numCovenantFields is the number of sighash preimage fields a covenant
// witness carries at the bottom of the stack, one element each.
const numCovenantFields = 12

// CovenantLayout locates the sighash preimage fields the covenant fragments
// read. Slots are stack indexes counted from the bottom. Positions are the
// 1-based field numbers in the preimage, and the first field is deepest, so a
// field at position p sits at slot 12-p.
type CovenantLayout struct {
	// VersionSlot and VersionPos locate the 4 byte transaction version
	// read by ver_eq.
	VersionSlot int
	VersionPos  int

	// OutputsSlot and OutputsPos locate the 32 byte hashOutputs read by
	// outputs_pref.
	OutputsSlot int
	OutputsPos  int
}

// DefaultCovenantLayout is the layout the ver_eq and outputs_pref scripts are
// encoded for: `OP_DEPTH <12> OP_SUB OP_PICK` reaches slot 11 and
// `OP_DEPTH <4> OP_SUB OP_PICK` reaches slot 3.
var DefaultCovenantLayout = CovenantLayout{
	VersionSlot: miniscript.VersionDepthOffset - 1,
	VersionPos:  1,
	OutputsSlot: miniscript.OutputsDepthOffset - 1,
	OutputsPos:  9,
}

// Validate checks that every slot matches its field position.
func (l CovenantLayout) Validate() error {
	check := func(name string, slot, pos int) error {
		if pos < 1 || pos > numCovenantFields {
			str := fmt.Sprintf("%s position %d is outside the %d "+
				"preimage fields", name, pos, numCovenantFields)
			return evalError(ErrBadLayout, str)
		}
		if slot != numCovenantFields-pos {
			str := fmt.Sprintf("%s slot %d does not hold position "+
				"%d, want slot %d", name, slot, pos,
				numCovenantFields-pos)
			return evalError(ErrBadLayout, str)
		}
		return nil
	}
	if err := check("version", l.VersionSlot, l.VersionPos); err != nil {
		return err
	}
	return check("outputs", l.OutputsSlot, l.OutputsPos)
}
