package condition

import (
	"strconv"
	"strings"

	masterminds "github.com/Masterminds/semver/v3"

	"github.com/updatefleet/firmware-registry/pkg/fwversion"
)

// Device is the evaluation context for a condition: the fingerprint of the
// device asking for updates.
type Device struct {
	ManufacturerID  uint16
	ProductType     uint16
	ProductID       uint16
	FirmwareVersion string
}

// Applies reports whether the given condition holds for the device.
// An empty condition always applies, as does any condition for a nil device.
// A condition that fails to parse returns an error; it is never silently
// coerced to true or false.
func Applies(cond string, device *Device) (bool, error) {
	if cond == "" {
		return true, nil
	}
	if device == nil {
		return true, nil
	}
	expr, err := Parse(cond)
	if err != nil {
		return false, err
	}
	return expr.Eval(device), nil
}

type valueKind int

const (
	kindNull valueKind = iota
	kindNumber
	kindVersion
	kindBool
)

// value is the result of evaluating a term. Comparisons between mismatched
// kinds are false, matching the lenient semantics of the condition language.
type value struct {
	kind    valueKind
	num     int64
	version string
	boolean bool
}

// Eval evaluates the expression against the device. Evaluation is pure and
// has no side effects.
func (e *Expression) Eval(device *Device) bool {
	return truthy(e.eval(device))
}

func (e *Expression) eval(device *Device) value {
	v := e.First.eval(device)
	for _, next := range e.Rest {
		if truthy(v) {
			return boolValue(true)
		}
		v = next.eval(device)
	}
	if len(e.Rest) > 0 {
		return boolValue(truthy(v))
	}
	return v
}

func (a *AndExpr) eval(device *Device) value {
	v := a.First.eval(device)
	for _, next := range a.Rest {
		if !truthy(v) {
			return boolValue(false)
		}
		v = next.eval(device)
	}
	if len(a.Rest) > 0 {
		return boolValue(truthy(v))
	}
	return v
}

func (c *Comparison) eval(device *Device) value {
	left := c.Left.eval(device)
	if c.Op == "" {
		return left
	}
	right := c.Right.eval(device)
	return boolValue(compare(c.Op, left, right))
}

func (u *Unary) eval(device *Device) value {
	if u.Not != nil {
		return boolValue(!truthy(u.Not.eval(device)))
	}
	return u.Primary.eval(device)
}

func (p *Primary) eval(device *Device) value {
	switch {
	case p.Sub != nil:
		return p.Sub.eval(device)
	case p.Hex != nil:
		num, err := strconv.ParseInt(strings.TrimPrefix(strings.ToLower(*p.Hex), "0x"), 16, 64)
		if err != nil {
			return value{kind: kindNull}
		}
		return value{kind: kindNumber, num: num}
	case p.Version != nil:
		return value{kind: kindVersion, version: *p.Version}
	case p.Int != nil:
		return value{kind: kindNumber, num: *p.Int}
	case p.Field != nil:
		return fieldValue(*p.Field, device)
	}
	return value{kind: kindNull}
}

func fieldValue(name string, device *Device) value {
	switch name {
	case "manufacturerId":
		return value{kind: kindNumber, num: int64(device.ManufacturerID)}
	case "productType":
		return value{kind: kindNumber, num: int64(device.ProductType)}
	case "productId":
		return value{kind: kindNumber, num: int64(device.ProductID)}
	case "firmwareVersion":
		return value{kind: kindVersion, version: device.FirmwareVersion}
	default:
		// Unknown fields evaluate to null; comparisons against null are false.
		return value{kind: kindNull}
	}
}

// compare applies a comparison operator. When either operand is a version,
// the version-aware variant is used: both sides are right-padded to three
// components and an operand that fails to parse yields false, not an error.
func compare(op string, left, right value) bool {
	if left.kind == kindNull || right.kind == kindNull {
		return false
	}
	if left.kind == kindVersion || right.kind == kindVersion {
		return compareVersions(op, left, right)
	}
	if left.kind != kindNumber || right.kind != kindNumber {
		return false
	}
	switch op {
	case "===", "==":
		return left.num == right.num
	case "!==", "!=":
		return left.num != right.num
	case ">=":
		return left.num >= right.num
	case ">":
		return left.num > right.num
	case "<=":
		return left.num <= right.num
	case "<":
		return left.num < right.num
	}
	return false
}

func compareVersions(op string, left, right value) bool {
	va, okA := asVersion(left)
	vb, okB := asVersion(right)
	if !okA || !okB {
		return false
	}
	cmp := va.Compare(vb)
	switch op {
	case "===", "==":
		return cmp == 0
	case "!==", "!=":
		return cmp != 0
	case ">=":
		return cmp >= 0
	case ">":
		return cmp > 0
	case "<=":
		return cmp <= 0
	case "<":
		return cmp < 0
	}
	return false
}

func asVersion(v value) (*masterminds.Version, bool) {
	var raw string
	switch v.kind {
	case kindVersion:
		raw = v.version
	case kindNumber:
		raw = strconv.FormatInt(v.num, 10) + ".0"
	default:
		return nil, false
	}
	parsed, err := masterminds.NewVersion(fwversion.Pad(raw))
	if err != nil {
		return nil, false
	}
	return parsed, true
}

func truthy(v value) bool {
	switch v.kind {
	case kindBool:
		return v.boolean
	case kindNumber:
		return v.num != 0
	case kindVersion:
		return v.version != ""
	default:
		return false
	}
}

func boolValue(b bool) value {
	return value{kind: kindBool, boolean: b}
}
