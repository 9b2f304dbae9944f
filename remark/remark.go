// Package remark encodes and decodes the protocol messages carried in
// System.remark calls.
//
// A message is an ASCII string of tokens joined by "::". Token 0 is the
// protocol name, token 1 the version and token 2 the action; the content
// fields follow at the slots the schema assigns to (version, action).
package remark

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vitwit/remarkpay/types"
)

// Delimiter separates message tokens.
const Delimiter = "::"

// Config holds the allow-lists the codec accepts.
type Config struct {
	ProtNames []string
	Versions  []string
	Actions   []string
}

// Source is the input of Encode.
type Source struct {
	ProtName string
	Version  string
	Action   string
	Content  map[Field]string
}

// Message is a decoded remark. Content is nil unless Valid.
type Message struct {
	ProtName string           `json:"protName"`
	Version  string           `json:"version"`
	Action   string           `json:"action"`
	Valid    bool             `json:"valid"`
	Content  map[Field]string `json:"content,omitempty"`
}

func (m Message) get(f Field) string {
	if m.Content == nil {
		return ""
	}
	return m.Content[f]
}

func (m Message) OpID() string       { return m.get(FieldOpID) }
func (m Message) Target() string     { return m.get(FieldTarget) }
func (m Message) DomainName() string { return m.get(FieldDomainName) }
func (m Message) Token() string      { return m.get(FieldToken) }

// EnergyAmount is only set on NRG_GEN family messages.
func (m Message) EnergyAmount() string { return m.get(FieldEnergyAmount) }

// Source converts m back to an encodable source.
func (m Message) Source() Source {
	content := make(map[Field]string, len(m.Content))
	for k, v := range m.Content {
		content[k] = v
	}
	return Source{ProtName: m.ProtName, Version: m.Version, Action: m.Action, Content: content}
}

// JSON returns the audit copy stored on orders.
func (m Message) JSON() json.RawMessage {
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return b
}

// Codec is safe for concurrent use; it is read-only after construction.
type Codec struct {
	protNames map[string]struct{}
	versions  map[string]struct{}
	actions   map[string]struct{}
	schema    *Schema
}

// NewCodec builds a codec. Every allow-listed action must be defined by the
// schema for at least one allow-listed version.
func NewCodec(cfg Config, schema *Schema) (*Codec, error) {
	if schema == nil {
		return nil, &types.Error{Code: types.ErrInvalidSchema, Message: "schema is required"}
	}
	if len(cfg.ProtNames) == 0 || len(cfg.Versions) == 0 || len(cfg.Actions) == 0 {
		return nil, &types.Error{Code: types.ErrConfigError, Message: "protocol names, versions and actions must not be empty"}
	}
	c := &Codec{
		protNames: toSet(cfg.ProtNames),
		versions:  toSet(cfg.Versions),
		actions:   toSet(cfg.Actions),
		schema:    schema,
	}
	for action := range c.actions {
		defined := false
		for version := range c.versions {
			if schema.Has(version, action) {
				defined = true
				break
			}
		}
		if !defined {
			return nil, &types.Error{
				Code:    types.ErrInvalidSchema,
				Message: fmt.Sprintf("action %s has no schema entry for any allowed version", action),
			}
		}
	}
	return c, nil
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func (c *Codec) allowed(protName, version, action string) bool {
	_, p := c.protNames[protName]
	_, v := c.versions[version]
	_, a := c.actions[action]
	return p && v && a
}

// KnownProtocol reports whether name is one of the allowed protocol names.
func (c *Codec) KnownProtocol(name string) bool {
	_, ok := c.protNames[name]
	return ok
}

// Schema returns the schema the codec was built with.
func (c *Codec) Schema() *Schema { return c.schema }

// Decode parses raw. It never fails: anything that does not match the
// allow-lists and schema comes back with Valid set to false.
func (c *Codec) Decode(raw []byte) Message {
	return c.DecodeString(string(raw))
}

func (c *Codec) DecodeString(s string) Message {
	tokens := strings.Split(s, Delimiter)
	if len(tokens) < ContentOffset {
		return Message{}
	}
	msg := Message{ProtName: tokens[0], Version: tokens[1], Action: tokens[2]}
	if !c.allowed(msg.ProtName, msg.Version, msg.Action) {
		return msg
	}
	fields, ok := c.schema.Fields(msg.Version, msg.Action)
	if !ok {
		return msg
	}
	content := make(map[Field]string, len(fields))
	for _, f := range fields {
		slot, _ := c.schema.Slot(msg.Version, msg.Action, f)
		if slot >= len(tokens) {
			return msg
		}
		if err := coerce(f, tokens[slot]); err != nil {
			return msg
		}
		content[f] = tokens[slot]
	}
	msg.Valid = true
	msg.Content = content
	return msg
}

// Encode renders src. It returns an ErrInvalidSource error when the header is
// not allow-listed, the schema has no entry for it, or a field is missing or
// malformed.
func (c *Codec) Encode(src Source) (string, error) {
	if !c.allowed(src.ProtName, src.Version, src.Action) {
		return "", invalidSource(fmt.Sprintf("%s/%s/%s is not allowed", src.ProtName, src.Version, src.Action))
	}
	fields, ok := c.schema.Fields(src.Version, src.Action)
	if !ok {
		return "", invalidSource(fmt.Sprintf("no schema for %s/%s", src.Version, src.Action))
	}
	tokens := make([]string, ContentOffset+len(fields))
	tokens[0], tokens[1], tokens[2] = src.ProtName, src.Version, src.Action
	for _, f := range fields {
		v, ok := src.Content[f]
		if !ok {
			return "", invalidSource(fmt.Sprintf("missing field %s", f))
		}
		if err := coerce(f, v); err != nil {
			return "", invalidSource(err.Error())
		}
		slot, _ := c.schema.Slot(src.Version, src.Action, f)
		tokens[slot] = v
	}
	return strings.Join(tokens, Delimiter), nil
}

func invalidSource(msg string) error {
	return &types.Error{Code: types.ErrInvalidSource, Message: msg}
}

// IsInvalidSource reports whether err was returned by Encode for a bad source.
func IsInvalidSource(err error) bool {
	var e *types.Error
	return errors.As(err, &e) && e.Code == types.ErrInvalidSource
}
