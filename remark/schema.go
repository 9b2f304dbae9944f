package remark

import (
	"fmt"
	"sort"

	"github.com/vitwit/remarkpay/types"
)

// Field names a content field of a protocol message.
type Field string

const (
	FieldOpID         Field = "opId"
	FieldTarget       Field = "target"
	FieldDomainName   Field = "domainName"
	FieldEnergyAmount Field = "energyAmount"
	FieldToken        Field = "token"
)

// Protocol actions.
const (
	ActionDomainRegister         = "DMN_REG"
	ActionDomainRegisterComplete = "DMN_REG_OK"
	ActionDomainRegisterRefund   = "DMN_REG_REFUND"
	ActionEnergyGenerate         = "NRG_GEN"
	ActionEnergyGenerateComplete = "NRG_GEN_OK"
	ActionEnergyGenerateRefund   = "NRG_GEN_REFUND"
)

// ContentOffset is the first token index holding content. Tokens 0, 1 and 2
// carry the protocol name, version and action.
const ContentOffset = 3

// Table maps version -> action -> field -> token slot.
type Table map[string]map[string]map[Field]int

// Schema is a validated, read-only Table.
type Schema struct {
	entries map[string]map[string][]Field // fields ordered by slot
	table   Table
}

// NewSchema validates t and freezes it. Every action must declare at least
// one field and the slots of an action must be unique and contiguous from
// ContentOffset.
func NewSchema(t Table) (*Schema, error) {
	if len(t) == 0 {
		return nil, schemaError("schema has no versions")
	}
	s := &Schema{
		entries: make(map[string]map[string][]Field, len(t)),
		table:   make(Table, len(t)),
	}
	for version, actions := range t {
		if version == "" {
			return nil, schemaError("empty version")
		}
		if len(actions) == 0 {
			return nil, schemaError(fmt.Sprintf("version %s declares no actions", version))
		}
		s.entries[version] = make(map[string][]Field, len(actions))
		s.table[version] = make(map[string]map[Field]int, len(actions))
		for action, fields := range actions {
			ordered, err := orderFields(fields)
			if err != nil {
				return nil, schemaError(fmt.Sprintf("%s/%s: %v", version, action, err))
			}
			s.entries[version][action] = ordered
			cp := make(map[Field]int, len(fields))
			for f, slot := range fields {
				cp[f] = slot
			}
			s.table[version][action] = cp
		}
	}
	return s, nil
}

func orderFields(fields map[Field]int) ([]Field, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("no fields declared")
	}
	bySlot := make(map[int]Field, len(fields))
	for f, slot := range fields {
		if f == "" {
			return nil, fmt.Errorf("empty field name")
		}
		if slot < 0 {
			return nil, fmt.Errorf("field %s has negative slot %d", f, slot)
		}
		if prev, dup := bySlot[slot]; dup {
			return nil, fmt.Errorf("fields %s and %s share slot %d", prev, f, slot)
		}
		bySlot[slot] = f
	}
	slots := make([]int, 0, len(bySlot))
	for slot := range bySlot {
		slots = append(slots, slot)
	}
	sort.Ints(slots)
	ordered := make([]Field, 0, len(slots))
	for i, slot := range slots {
		if slot != ContentOffset+i {
			return nil, fmt.Errorf("slots must be contiguous from %d, got %d", ContentOffset, slot)
		}
		ordered = append(ordered, bySlot[slot])
	}
	return ordered, nil
}

func schemaError(msg string) error {
	return &types.Error{Code: types.ErrInvalidSchema, Message: msg}
}

// MustSchema is like NewSchema but panics on an invalid table.
func MustSchema(t Table) *Schema {
	s, err := NewSchema(t)
	if err != nil {
		panic(err)
	}
	return s
}

// DefaultSchema returns the table for protocol version 0.1.
func DefaultSchema() *Schema {
	domain := func() map[Field]int {
		return map[Field]int{FieldOpID: 3, FieldTarget: 4, FieldDomainName: 5, FieldToken: 6}
	}
	energy := func() map[Field]int {
		return map[Field]int{FieldOpID: 3, FieldTarget: 4, FieldEnergyAmount: 5, FieldToken: 6}
	}
	return MustSchema(Table{
		"0.1": {
			ActionDomainRegister:         domain(),
			ActionDomainRegisterComplete: domain(),
			ActionDomainRegisterRefund:   domain(),
			ActionEnergyGenerate:         energy(),
			ActionEnergyGenerateComplete: energy(),
			ActionEnergyGenerateRefund:   energy(),
		},
	})
}

// Fields returns the fields of (version, action) ordered by slot.
func (s *Schema) Fields(version, action string) ([]Field, bool) {
	fields, ok := s.entries[version][action]
	if !ok {
		return nil, false
	}
	return append([]Field(nil), fields...), true
}

// Slot returns the token index of a field.
func (s *Schema) Slot(version, action string, f Field) (int, bool) {
	slot, ok := s.table[version][action][f]
	return slot, ok
}

// Has reports whether the schema defines action for version.
func (s *Schema) Has(version, action string) bool {
	_, ok := s.entries[version][action]
	return ok
}

// Versions lists the declared versions in sorted order.
func (s *Schema) Versions() []string {
	out := make([]string, 0, len(s.entries))
	for v := range s.entries {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
