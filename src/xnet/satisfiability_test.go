package xnet

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func qualified(id string) Token {
	return Token{ID: id, Type: "coin"}
}

func TestIsExpressionSatisfiable(t *testing.T) {
	q := qualified("t")
	u1 := Token{Type: "coin"}
	u2 := Token{Type: "coin"}

	tests := []struct {
		name string
		expr Expression
		want bool
	}{
		{"nothing", nil, true},
		{"single token", q, true},
		{"negated token", Not{Item: q}, true},
		{"same qualified token contradicts", And{Items: []Expression{q, Not{Item: q}}}, false},
		{"unqualified tokens are independent", And{Items: []Expression{u1, Not{Item: u2}}}, true},
		{"excluded middle", Or{Items: []Expression{q, Not{Item: q}}}, true},
		{"de morgan contradiction", And{Items: []Expression{Not{Item: Or{Items: []Expression{q, qualified("r")}}}, q}}, false},
		{"empty and", And{}, true},
		{"empty or", Or{}, false},
		{"distribution", Or{Items: []Expression{
			And{Items: []Expression{q, Not{Item: q}}},
			And{Items: []Expression{qualified("r"), qualified("s")}},
		}}, true},
		{"distribution contradiction", Or{Items: []Expression{
			And{Items: []Expression{q, Not{Item: q}}},
			And{Items: []Expression{qualified("r"), Not{Item: qualified("r")}}},
		}}, false},
		{"nested nots", Not{Item: Not{Item: And{Items: []Expression{q, Not{Item: q}}}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsExpressionSatisfiable(tt.expr))
		})
	}
}

func TestDistinctQualifiedTokensAlwaysSatisfiable(t *testing.T) {
	build := []func(items []Expression) Expression{
		func(items []Expression) Expression { return And{Items: items} },
		func(items []Expression) Expression { return Or{Items: items} },
		func(items []Expression) Expression { return Not{Item: And{Items: items}} },
		func(items []Expression) Expression { return And{Items: []Expression{Not{Item: items[0]}, Or{Items: items[1:]}}} },
	}
	for n := 2; n <= 6; n++ {
		items := make([]Expression, n)
		for i := range items {
			items[i] = qualified(fmt.Sprintf("id-%d", i))
		}
		for i, b := range build {
			assert.True(t, IsExpressionSatisfiable(b(items)), "shape %d with %d tokens", i, n)
		}
	}
}

func TestIntoCNF(t *testing.T) {
	reg := newLiteralRegistry()
	// a or (b and c)
	expr := Or{Items: []Expression{qualified("a"), And{Items: []Expression{qualified("b"), qualified("c")}}}}
	cnf := intoCNF(intoNNF(intoPEF(expr, reg), false))

	assert.Equal(t, 3, reg.count)
	assert.Equal(t, [][]int{{1, 2}, {1, 3}}, cnf)
}

func TestIntoNNF(t *testing.T) {
	reg := newLiteralRegistry()
	expr := Not{Item: And{Items: []Expression{qualified("a"), Not{Item: qualified("b")}}}}
	nnf := intoNNF(intoPEF(expr, reg), false)

	assert.Equal(t, formula{op: opOr, items: []formula{
		{op: opLiteral, literal: -1},
		{op: opLiteral, literal: 2},
	}}, nnf)
}

func TestPEFLiterals(t *testing.T) {
	reg := newLiteralRegistry()
	expr := And{Items: []Expression{qualified("a"), Token{Type: "coin"}, qualified("a"), Token{Type: "coin"}, nil, nil}}
	pef := intoPEF(expr, reg)

	lits := make([]int, 0, len(pef.items))
	for _, item := range pef.items {
		lits = append(lits, item.literal)
	}
	assert.Equal(t, []int{1, 2, 1, 3, 4, 4}, lits)
}

func TestIsProposalSatisfiable(t *testing.T) {
	assert.True(t, IsProposalSatisfiable(Token{Type: "coin"}, qualified("y1")))
	assert.False(t, IsProposalSatisfiable(qualified("t1"), qualified("t1")))
	assert.False(t, IsProposalSatisfiable(And{Items: []Expression{qualified("t1"), qualified("t1")}}, nil))
	assert.False(t, IsProposalSatisfiable(Or{}, qualified("y1")))
	assert.True(t, IsProposalSatisfiable(nil, nil))
}

func TestProposalClassification(t *testing.T) {
	a := qualified("a")
	b := qualified("b")

	assert.True(t, IsProposalQualified(a, And{Items: []Expression{b}}))
	assert.False(t, IsProposalQualified(a, nil))
	assert.True(t, IsProposalEmpty(nil, nil))
	assert.False(t, IsProposalEmpty(a, nil))
	assert.True(t, IsProposalRejection(Not{Item: a}, nil))
	assert.False(t, IsProposalRejection(nil, nil))
	assert.False(t, IsProposalRejection(Not{Item: a}, b))
}
