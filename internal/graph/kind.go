package graph

import (
	"fmt"
	"strings"
)

// Kind is the type tag of a node. All behavior that varies by kind is looked
// up in the capability table rather than dispatched through methods.
type Kind uint8

const (
	KindForm Kind = iota
	KindText
	KindInt
	KindDecimal
	KindDate
	KindTime
	KindLabel
	KindHidden
	KindSelect
	KindMultiSelect
	KindChoice
	KindGroup
	KindRepeat
	KindFieldList
	numKinds
)

var kindNames = [numKinds]string{
	"form", "text", "int", "decimal", "date", "time", "label", "hidden",
	"select", "multiselect", "choice", "group", "repeat", "fieldlist",
}

func (k Kind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// ParseKind resolves a kind name. The form kind is not creatable and is
// rejected.
func ParseKind(s string) (Kind, error) {
	for i, name := range kindNames {
		if strings.EqualFold(name, s) && Kind(i) != KindForm {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown node kind %q", s)
}

// Prop names a scalar or expression property as "group/name".
type Prop string

const (
	PropRelevant     Prop = "bind/relevant"
	PropCalculate    Prop = "bind/calculate"
	PropConstraint   Prop = "bind/constraint"
	PropRequired     Prop = "bind/required"
	PropDefaultValue Prop = "data/default_value"
	PropRepeatCount  Prop = "control/repeat_count"
	PropNodeset      Prop = "control/nodeset"
	PropAppearance   Prop = "control/appearance"
)

// Props lists every property in a fixed order.
var Props = []Prop{
	PropRelevant, PropCalculate, PropConstraint, PropRequired,
	PropDefaultValue, PropRepeatCount, PropNodeset, PropAppearance,
}

// ExpressionProps lists every property holding an expression, in the order
// they are scanned.
var ExpressionProps = []Prop{
	PropRelevant, PropCalculate, PropConstraint, PropRequired,
	PropDefaultValue, PropRepeatCount, PropNodeset,
}

// Group returns the property group, e.g. "bind".
func (p Prop) Group() string {
	g, _, _ := strings.Cut(string(p), "/")
	return g
}

// Name returns the property name within its group.
func (p Prop) Name() string {
	_, n, _ := strings.Cut(string(p), "/")
	return n
}

// IsExpression reports whether values of p are parsed as expressions.
func (p Prop) IsExpression() bool {
	for _, e := range ExpressionProps {
		if e == p {
			return true
		}
	}
	return false
}

// AllowsSelfReference reports whether p may reference its own node. Only a
// constraint is evaluated against the node's own value.
func (p Prop) AllowsSelfReference() bool { return p == PropConstraint }

// TextProp names a text-bearing property linked to a localized-text item.
type TextProp string

const (
	TextLabel         TextProp = "label"
	TextHint          TextProp = "hint"
	TextHelp          TextProp = "help"
	TextConstraintMsg TextProp = "constraintMsg"
)

// TextProps lists the text properties in discovery order.
var TextProps = []TextProp{TextLabel, TextHint, TextHelp, TextConstraintMsg}

// Presence declares whether a kind requires, permits or forbids a property.
type Presence uint8

const (
	NotAllowed Presence = iota
	Optional
	Required
)

func (p Presence) String() string {
	switch p {
	case Optional:
		return "optional"
	case Required:
		return "required"
	}
	return "notallowed"
}

// Spec is the capability record of one kind.
type Spec struct {
	Kind           Kind
	children       uint32
	AddressByValue bool // addressed by value and exempt from sibling uniqueness
	Props          map[Prop]Presence
	Texts          map[TextProp]Presence
}

// Allows reports whether a node of this kind may contain child.
func (s *Spec) Allows(child Kind) bool { return s.children&(1<<child) != 0 }

// Leaf reports whether the kind accepts no children at all.
func (s *Spec) Leaf() bool { return s.children == 0 }

// Prop returns the presence of p for this kind.
func (s *Spec) Prop(p Prop) Presence { return s.Props[p] }

// Text returns the presence of t for this kind.
func (s *Spec) Text(t TextProp) Presence { return s.Texts[t] }

func kinds(ks ...Kind) uint32 {
	var m uint32
	for _, k := range ks {
		m |= 1 << k
	}
	return m
}

var (
	inputKinds    = kinds(KindText, KindInt, KindDecimal, KindDate, KindTime, KindLabel, KindHidden, KindSelect, KindMultiSelect)
	questionKinds = inputKinds | kinds(KindGroup, KindRepeat, KindFieldList)

	inputProps = map[Prop]Presence{
		PropRelevant: Optional, PropConstraint: Optional, PropRequired: Optional,
		PropDefaultValue: Optional, PropAppearance: Optional,
	}
	inputTexts = map[TextProp]Presence{
		TextLabel: Required, TextHint: Optional, TextHelp: Optional, TextConstraintMsg: Optional,
	}
	containerTexts = map[TextProp]Presence{TextLabel: Optional}
)

var specs = [numKinds]Spec{
	KindForm:    {children: questionKinds},
	KindText:    {Props: inputProps, Texts: inputTexts},
	KindInt:     {Props: inputProps, Texts: inputTexts},
	KindDecimal: {Props: inputProps, Texts: inputTexts},
	KindDate:    {Props: inputProps, Texts: inputTexts},
	KindTime:    {Props: inputProps, Texts: inputTexts},
	KindLabel: {
		Props: map[Prop]Presence{PropRelevant: Optional, PropAppearance: Optional},
		Texts: map[TextProp]Presence{TextLabel: Required, TextHint: Optional, TextHelp: Optional},
	},
	KindHidden: {
		Props: map[Prop]Presence{PropRelevant: Optional, PropCalculate: Optional, PropDefaultValue: Optional},
	},
	KindSelect: {
		children: kinds(KindChoice),
		Props:    withProps(inputProps, PropNodeset),
		Texts:    inputTexts,
	},
	KindMultiSelect: {
		children: kinds(KindChoice),
		Props:    withProps(inputProps, PropNodeset),
		Texts:    inputTexts,
	},
	KindChoice: {
		AddressByValue: true,
		Texts:          map[TextProp]Presence{TextLabel: Required},
	},
	KindGroup: {
		children: questionKinds,
		Props:    map[Prop]Presence{PropRelevant: Optional, PropAppearance: Optional},
		Texts:    containerTexts,
	},
	KindRepeat: {
		children: questionKinds,
		Props:    map[Prop]Presence{PropRelevant: Optional, PropRepeatCount: Optional, PropAppearance: Optional},
		Texts:    containerTexts,
	},
	KindFieldList: {
		children: inputKinds,
		Props:    map[Prop]Presence{PropRelevant: Optional},
		Texts:    containerTexts,
	},
}

func withProps(base map[Prop]Presence, extra ...Prop) map[Prop]Presence {
	m := make(map[Prop]Presence, len(base)+len(extra))
	for p, v := range base {
		m[p] = v
	}
	for _, p := range extra {
		m[p] = Optional
	}
	return m
}

func init() {
	for i := range specs {
		specs[i].Kind = Kind(i)
	}
}

// Spec returns the capability record of k.
func (k Kind) Spec() *Spec {
	if k >= numKinds {
		return &Spec{Kind: k}
	}
	return &specs[k]
}

// CanContain reports whether a parent of kind parent accepts child.
func CanContain(parent, child Kind) bool {
	return parent.Spec().Allows(child)
}
