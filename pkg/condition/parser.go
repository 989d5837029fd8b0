// Package condition implements the boolean expression language that gates
// whether an upgrade applies to a device. Conditions reference fingerprint
// fields by name and combine comparisons with logical operators, e.g.
//
//	firmwareVersion >= 1.1 && firmwareVersion < 1.7 && productId === 0xcafe
//
// Expressions are parsed into a small tree and evaluated against a fixed
// context; there is no runtime code evaluation.
package condition

import (
	"fmt"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

const logPrefix = "condition:parser"

var condLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Hex", Pattern: `0[xX][0-9a-fA-F]+`},
	{Name: "Version", Pattern: `\d{1,3}\.\d{1,3}(\.\d{1,3})?`},
	{Name: "Int", Pattern: `\d+`},
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
	{Name: "CmpOp", Pattern: `===|==|!==|!=|>=|<=|>|<`},
	{Name: "AndOp", Pattern: `&&`},
	{Name: "OrOp", Pattern: `\|\|`},
	{Name: "Not", Pattern: `!`},
	{Name: "Paren", Pattern: `[()]`},
	{Name: "Whitespace", Pattern: `\s+`},
})

var parser = participle.MustBuild[Expression](
	participle.Lexer(condLexer),
	participle.Elide("Whitespace"),
)

// Expression is a disjunction of and-expressions.
type Expression struct {
	First *AndExpr   `parser:"@@"`
	Rest  []*AndExpr `parser:"( '||' @@ )*"`
}

// AndExpr is a conjunction of comparisons.
type AndExpr struct {
	First *Comparison   `parser:"@@"`
	Rest  []*Comparison `parser:"( '&&' @@ )*"`
}

// Comparison is an optionally compared pair of operands.
type Comparison struct {
	Left  *Unary `parser:"@@"`
	Op    string `parser:"( @CmpOp"`
	Right *Unary `parser:"@@ )?"`
}

// Unary is a negation or a primary term.
type Unary struct {
	Not     *Unary   `parser:"'!' @@"`
	Primary *Primary `parser:"| @@"`
}

// Primary is a parenthesized expression, a literal, or a field reference.
type Primary struct {
	Sub     *Expression `parser:"'(' @@ ')'"`
	Hex     *string     `parser:"| @Hex"`
	Version *string     `parser:"| @Version"`
	Int     *int64      `parser:"| @Int"`
	Field   *string     `parser:"| @Ident"`
}

// Parse parses a condition string into an expression tree. A condition that
// fails to parse is a hard failure reported with the literal condition text.
func Parse(cond string) (*Expression, error) {
	expr, err := parser.ParseString("", cond)
	if err != nil {
		return nil, fmt.Errorf("%s - invalid condition %q: %w", logPrefix, cond, err)
	}
	return expr, nil
}
