package xnet

// The satisfiability engine compiles an expression in three stages and then
// searches assignments by brute force:
//
//	PEF  tokens replaced by positive integer literals
//	NNF  negations pushed down to the literals
//	CNF  a conjunction of disjunctive clauses
//
// The search is exponential in the number of distinct literals. Proposals are
// expected to stay small.

// literalRegistry names the literals of one compilation. Qualified tokens share
// a literal per id, every unqualified token occurrence gets its own.
type literalRegistry struct {
	count     int
	qualified map[ID]int
	nothing   int
}

func newLiteralRegistry() *literalRegistry {
	return &literalRegistry{qualified: make(map[ID]int)}
}

func (r *literalRegistry) fresh() int {
	r.count++
	return r.count
}

func (r *literalRegistry) forToken(t Token) int {
	if !t.IsQualified() {
		return r.fresh()
	}
	if lit, ok := r.qualified[t.ID]; ok {
		return lit
	}
	lit := r.fresh()
	r.qualified[t.ID] = lit
	return lit
}

func (r *literalRegistry) forNothing() int {
	if r.nothing == 0 {
		r.nothing = r.fresh()
	}
	return r.nothing
}

type opKind int

const (
	opLiteral opKind = iota
	opAnd
	opOr
	opNot
)

// formula is the shared node shape of the PEF and NNF stages.
type formula struct {
	op      opKind
	literal int
	items   []formula
}

// intoPEF replaces every leaf with a literal. Operators stay as tagged nodes.
func intoPEF(e Expression, reg *literalRegistry) formula {
	switch t := e.(type) {
	case nil:
		return formula{op: opLiteral, literal: reg.forNothing()}
	case Token:
		return formula{op: opLiteral, literal: reg.forToken(t)}
	case And:
		return formula{op: opAnd, items: pefItems(t.Items, reg)}
	case Or:
		return formula{op: opOr, items: pefItems(t.Items, reg)}
	case Not:
		return formula{op: opNot, items: []formula{intoPEF(t.Item, reg)}}
	}
	panic("xnet: unknown expression node")
}

func pefItems(items []Expression, reg *literalRegistry) []formula {
	out := make([]formula, 0, len(items))
	for _, item := range items {
		out = append(out, intoPEF(item, reg))
	}
	return out
}

// intoNNF applies De Morgan's laws until no Not node remains. Negated literals
// become negative integers.
func intoNNF(f formula, negate bool) formula {
	switch f.op {
	case opLiteral:
		if negate {
			return formula{op: opLiteral, literal: -f.literal}
		}
		return f
	case opNot:
		return intoNNF(f.items[0], !negate)
	case opAnd, opOr:
		op := f.op
		if negate {
			if op == opAnd {
				op = opOr
			} else {
				op = opAnd
			}
		}
		items := make([]formula, 0, len(f.items))
		for _, item := range f.items {
			items = append(items, intoNNF(item, negate))
		}
		return formula{op: op, items: items}
	}
	panic("xnet: unknown formula node")
}

// intoCNF flattens an NNF formula into clauses. Nested conjunctions merge into
// one clause list and disjunctions distribute over conjunctions:
// P or (Q and R) becomes (P or Q) and (P or R).
func intoCNF(f formula) [][]int {
	switch f.op {
	case opLiteral:
		return [][]int{{f.literal}}
	case opAnd:
		var clauses [][]int
		for _, item := range f.items {
			clauses = append(clauses, intoCNF(item)...)
		}
		return clauses
	case opOr:
		// The empty disjunction is one empty, unsatisfiable clause.
		clauses := [][]int{{}}
		for _, item := range f.items {
			clauses = distribute(clauses, intoCNF(item))
		}
		return clauses
	}
	panic("xnet: formula not in negation normal form")
}

func distribute(left, right [][]int) [][]int {
	out := make([][]int, 0, len(left)*len(right))
	for _, l := range left {
		for _, r := range right {
			clause := make([]int, 0, len(l)+len(r))
			clause = append(clause, l...)
			clause = append(clause, r...)
			out = append(out, clause)
		}
	}
	return out
}

// solveCNF searches assignments of the n variables, assigning variable 1 first.
// A branch is abandoned as soon as a clause has no literal that is either still
// unassigned or true.
func solveCNF(clauses [][]int, n int) bool {
	if n < 1 {
		for _, clause := range clauses {
			if len(clause) == 0 {
				return false
			}
		}
		return true
	}
	vars := make([]bool, n)
	return branch(vars, 0, clauses)
}

func branch(vars []bool, assigned int, clauses [][]int) bool {
	if assigned >= len(vars) {
		return true
	}
	for _, value := range []bool{true, false} {
		vars[assigned] = value
		if consistent(vars, assigned+1, clauses) && branch(vars, assigned+1, clauses) {
			return true
		}
	}
	return false
}

func consistent(vars []bool, assigned int, clauses [][]int) bool {
outer:
	for _, clause := range clauses {
		for _, lit := range clause {
			if holds(vars, assigned, lit) {
				continue outer
			}
		}
		return false
	}
	return true
}

func holds(vars []bool, assigned int, lit int) bool {
	switch {
	case lit > assigned || -lit > assigned:
		return true
	case lit > 0:
		return vars[lit-1]
	default:
		return !vars[-lit-1]
	}
}

// IsExpressionSatisfiable reports whether some truth assignment of the tokens
// of e makes e hold. Qualified tokens with the same id are the same variable.
func IsExpressionSatisfiable(e Expression) bool {
	reg := newLiteralRegistry()
	pef := intoPEF(e, reg)
	cnf := intoCNF(intoNNF(pef, false))
	return solveCNF(cnf, reg.count)
}

// IsProposalSatisfiable requires every qualified token id to occur at most once
// across wants and gives, and each side to be satisfiable on its own. The two
// sides are not solved as one joint formula.
func IsProposalSatisfiable(wants, gives Expression) bool {
	ids := make(map[ID]struct{})
	if !uniqueQualifiedIDs(wants, ids) || !uniqueQualifiedIDs(gives, ids) {
		return false
	}
	return IsExpressionSatisfiable(wants) && IsExpressionSatisfiable(gives)
}

func uniqueQualifiedIDs(e Expression, ids map[ID]struct{}) bool {
	for _, token := range GetTokensFrom(e) {
		if !token.IsQualified() {
			continue
		}
		if _, seen := ids[token.ID]; seen {
			return false
		}
		ids[token.ID] = struct{}{}
	}
	return true
}

// IsProposalQualified reports whether both sides name concrete tokens only.
func IsProposalQualified(wants, gives Expression) bool {
	return IsExpressionQualified(wants) && IsExpressionQualified(gives)
}

// IsProposalEmpty reports whether the proposal neither wants nor gives anything.
func IsProposalEmpty(wants, gives Expression) bool {
	return wants == nil && gives == nil
}

// IsProposalRejection reports whether a non-empty proposal only rejects tokens.
func IsProposalRejection(wants, gives Expression) bool {
	return !IsProposalEmpty(wants, gives) &&
		(wants == nil || IsExpressionRejection(wants)) &&
		(gives == nil || IsExpressionRejection(gives))
}
