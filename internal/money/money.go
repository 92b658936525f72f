package money

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

// Currency identifies one of the two supported currency units.
// EGP is the home/ledger currency; USD prices divide by the exchange rate.
type Currency string

const (
	EGP Currency = "EGP"
	USD Currency = "USD"
)

// Valid reports whether c is one of the supported currencies.
func (c Currency) Valid() bool {
	return c == EGP || c == USD
}

// Amount is a monetary value carried at full decimal precision.
// Rounding to 2 decimal places happens only at presentation time (Display).
type Amount struct {
	dec decimal.Decimal
}

func Zero() Amount                        { return Amount{} }
func FromDecimal(d decimal.Decimal) Amount { return Amount{dec: d} }
func FromInt(n int64) Amount               { return Amount{dec: decimal.NewFromInt(n)} }

// FromString parses a decimal string, e.g. "49.50".
func FromString(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return Amount{dec: d}, nil
}

// MustParse is FromString for constants and tests; panics on bad input.
func MustParse(s string) Amount {
	a, err := FromString(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) Decimal() decimal.Decimal { return a.dec }

func (a Amount) Add(b Amount) Amount      { return Amount{dec: a.dec.Add(b.dec)} }
func (a Amount) Sub(b Amount) Amount      { return Amount{dec: a.dec.Sub(b.dec)} }
func (a Amount) Mul(b Amount) Amount      { return Amount{dec: a.dec.Mul(b.dec)} }
func (a Amount) MulInt(n int64) Amount    { return Amount{dec: a.dec.Mul(decimal.NewFromInt(n))} }
func (a Amount) Div(b Amount) Amount      { return Amount{dec: a.dec.Div(b.dec)} }
func (a Amount) DivInt(n int64) Amount    { return Amount{dec: a.dec.Div(decimal.NewFromInt(n))} }

func (a Amount) IsZero() bool             { return a.dec.IsZero() }
func (a Amount) IsPositive() bool         { return a.dec.IsPositive() }
func (a Amount) IsNegative() bool         { return a.dec.IsNegative() }
func (a Amount) LessThan(b Amount) bool   { return a.dec.LessThan(b.dec) }
func (a Amount) GreaterThan(b Amount) bool { return a.dec.GreaterThan(b.dec) }
func (a Amount) Equal(b Amount) bool      { return a.dec.Equal(b.dec) }

// Min returns the smaller of a and b.
func Min(a, b Amount) Amount {
	if a.LessThan(b) {
		return a
	}
	return b
}

// FloorToZero clamps negative amounts to zero.
func (a Amount) FloorToZero() Amount {
	if a.IsNegative() {
		return Zero()
	}
	return a
}

// String returns the full-precision value.
func (a Amount) String() string { return a.dec.String() }

// Display renders the amount rounded to 2 decimal places.
func (a Amount) Display() string { return a.dec.StringFixed(2) }

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.dec.String() + `"`), nil
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' {
		s = s[1 : len(s)-1]
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return err
	}
	a.dec = d
	return nil
}

// MarshalDynamoDBAttributeValue stores the amount as a DynamoDB number
// keeping full precision.
func (a Amount) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return &types.AttributeValueMemberN{Value: a.dec.String()}, nil
}

func (a *Amount) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	var raw string
	switch v := av.(type) {
	case *types.AttributeValueMemberN:
		raw = v.Value
	case *types.AttributeValueMemberS:
		raw = v.Value
	case *types.AttributeValueMemberNULL:
		a.dec = decimal.Decimal{}
		return nil
	default:
		return errors.New("amount: unsupported attribute type")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	a.dec = d
	return nil
}

// ToDisplay converts a home-currency amount into the display currency using
// the snapshot rate (home units per display unit). The rate's direction is
// fixed: display = home / rate.
func ToDisplay(home Amount, display Currency, rate Amount) Amount {
	if display == EGP {
		return home
	}
	return home.Div(rate)
}

// ToHome converts a display-currency amount back into the home currency.
func ToHome(amount Amount, display Currency, rate Amount) Amount {
	if display == EGP {
		return amount
	}
	return amount.Mul(rate)
}

// PointsPerUnit is the cashback exchange: 10 points redeem for 1 EGP.
const PointsPerUnit = 10

// PointsToAmount converts a point count into its home-currency value.
func PointsToAmount(points int) Amount {
	return FromInt(int64(points)).DivInt(PointsPerUnit)
}

// AmountToPoints converts a home-currency value into whole points,
// always rounding down.
func AmountToPoints(a Amount) int {
	return int(a.MulInt(PointsPerUnit).Decimal().IntPart())
}
