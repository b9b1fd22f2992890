package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CurrencyKind tags the variant of a Currency value.
type CurrencyKind uint8

const (
	BasicNeeds CurrencyKind = iota
	Education
	Environmental
	Community
	Volunteer
	Storage
	Processing
	Energy
	Luxury
	Service
	// Parametric variants carry their parameter in Currency.Ref.
	CustomKind
	AssetTokenKind
	BondKind
)

var kindNames = map[CurrencyKind]string{
	BasicNeeds:    "BasicNeeds",
	Education:     "Education",
	Environmental: "Environmental",
	Community:     "Community",
	Volunteer:     "Volunteer",
	Storage:       "Storage",
	Processing:    "Processing",
	Energy:        "Energy",
	Luxury:        "Luxury",
	Service:       "Service",
}

// Currency identifies one of the ledger's currencies. It is comparable by
// value, so it can key balance maps; the tag participates in equality.
type Currency struct {
	Kind CurrencyKind
	// Ref is the name of a Custom currency or the id of an AssetToken or
	// Bond. Empty for the fixed kinds.
	Ref string
}

func NewCurrency(kind CurrencyKind) Currency {
	return Currency{Kind: kind}
}

func Custom(name string) Currency {
	return Currency{Kind: CustomKind, Ref: name}
}

func AssetToken(id string) Currency {
	return Currency{Kind: AssetTokenKind, Ref: id}
}

func Bond(id string) Currency {
	return Currency{Kind: BondKind, Ref: id}
}

// Encode appends the deterministic tag-and-payload byte form used inside a
// transaction's canonical bytes: one tag byte, then the UTF-8 payload for
// the parametric kinds.
func (c Currency) Encode(b []byte) []byte {
	b = append(b, byte(c.Kind))
	switch c.Kind {
	case CustomKind, AssetTokenKind, BondKind:
		b = append(b, []byte(c.Ref)...)
	}
	return b
}

func (c Currency) String() string {
	switch c.Kind {
	case CustomKind:
		return fmt.Sprintf("Custom(%s)", c.Ref)
	case AssetTokenKind:
		return fmt.Sprintf("AssetToken(%s)", c.Ref)
	case BondKind:
		return fmt.Sprintf("Bond(%s)", c.Ref)
	default:
		if name, ok := kindNames[c.Kind]; ok {
			return name
		}
		return fmt.Sprintf("Unknown(%d)", c.Kind)
	}
}

// ParseCurrency inverts String.
func ParseCurrency(s string) (Currency, error) {
	for kind, name := range kindNames {
		if s == name {
			return Currency{Kind: kind}, nil
		}
	}
	for _, p := range []struct {
		prefix string
		kind   CurrencyKind
	}{
		{"Custom(", CustomKind},
		{"AssetToken(", AssetTokenKind},
		{"Bond(", BondKind},
	} {
		if strings.HasPrefix(s, p.prefix) && strings.HasSuffix(s, ")") {
			ref := s[len(p.prefix) : len(s)-1]
			if ref == "" {
				return Currency{}, fmt.Errorf("currency %q has an empty parameter", s)
			}
			return Currency{Kind: p.kind, Ref: ref}, nil
		}
	}
	return Currency{}, fmt.Errorf("unknown currency %q", s)
}

func (c Currency) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Currency) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseCurrency(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
