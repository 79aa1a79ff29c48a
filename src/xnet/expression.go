package xnet

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/exchangenetwork/xnet/src/canonical"
)

// Type tags reserved for logical operator nodes. Any token type beginning with
// OperatorPrefix is not a leaf.
const (
	OperatorPrefix = "__"
	TypeAnd        = "__and"
	TypeOr         = "__or"
	TypeNot        = "__not"
)

var ErrInvalidExpression = errors.New("invalid expression")

// Expression is a boolean combination of tokens. The nil Expression means nothing.
// The concrete node types are Token, And, Or and Not.
type Expression interface {
	expression()
}

// Token is a leaf. With a non-empty ID it denotes one specific entity, without
// one it denotes any entity of Type.
type Token struct {
	ID   ID     `json:"id,omitempty"`
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// And requires every item.
type And struct {
	Items []Expression
}

// Or requires at least one item.
type Or struct {
	Items []Expression
}

// Not negates its item.
type Not struct {
	Item Expression
}

func (Token) expression() {}
func (And) expression()   {}
func (Or) expression()    {}
func (Not) expression()   {}

func (a And) MarshalJSON() ([]byte, error) {
	return marshalItems(TypeAnd, a.Items)
}

func (o Or) MarshalJSON() ([]byte, error) {
	return marshalItems(TypeOr, o.Items)
}

func (n Not) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string     `json:"type"`
		Item Expression `json:"item"`
	}{Type: TypeNot, Item: n.Item})
}

func marshalItems(tag string, items []Expression) ([]byte, error) {
	if items == nil {
		items = []Expression{}
	}
	return json.Marshal(struct {
		Type  string       `json:"type"`
		Items []Expression `json:"items"`
	}{Type: tag, Items: items})
}

// exprNode is the union of every node's JSON fields.
type exprNode struct {
	ID    *string           `json:"id"`
	Type  *string           `json:"type"`
	Data  any               `json:"data"`
	Items []json.RawMessage `json:"items"`
	Item  json.RawMessage   `json:"item"`
}

// DecodeExpression parses the JSON form of an expression.
func DecodeExpression(data []byte) (Expression, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var node exprNode
	if err := json.Unmarshal(trimmed, &node); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}
	if node.Type == nil {
		return nil, fmt.Errorf("%w: missing type", ErrInvalidExpression)
	}
	switch tag := *node.Type; tag {
	case TypeAnd, TypeOr:
		if node.Items == nil {
			return nil, fmt.Errorf("%w: %s without items", ErrInvalidExpression, tag)
		}
		items := make([]Expression, 0, len(node.Items))
		for _, raw := range node.Items {
			item, err := DecodeExpression(raw)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		if tag == TypeAnd {
			return And{Items: items}, nil
		}
		return Or{Items: items}, nil
	case TypeNot:
		if node.Item == nil {
			return nil, fmt.Errorf("%w: %s without item", ErrInvalidExpression, tag)
		}
		item, err := DecodeExpression(node.Item)
		if err != nil {
			return nil, err
		}
		return Not{Item: item}, nil
	default:
		if tag == "" || strings.HasPrefix(tag, OperatorPrefix) {
			return nil, fmt.Errorf("%w: bad token type %q", ErrInvalidExpression, tag)
		}
		token := Token{Type: tag, Data: node.Data}
		if node.ID != nil {
			token.ID = *node.ID
		}
		return token, nil
	}
}

// IsToken, IsAnd, IsOr and IsNot discriminate the expression node types.
func IsToken(e Expression) bool {
	_, ok := e.(Token)
	return ok
}

func IsAnd(e Expression) bool {
	_, ok := e.(And)
	return ok
}

func IsOr(e Expression) bool {
	_, ok := e.(Or)
	return ok
}

func IsNot(e Expression) bool {
	_, ok := e.(Not)
	return ok
}

// IsQualified reports whether the token names one specific entity.
func (t Token) IsQualified() bool {
	return t.ID != ""
}

// Qualifies reports whether the qualified token t satisfies the unqualified
// request r: same type, and every attribute r asks for is present in t.
// A request without data asks for nothing beyond the type.
func (t Token) Qualifies(r Token) bool {
	if t.Type != r.Type {
		return false
	}
	if r.Data == nil {
		return true
	}
	want, err := canonical.Normalize(r.Data)
	if err != nil {
		return false
	}
	have, err := canonical.Normalize(t.Data)
	if err != nil {
		return false
	}
	return canonical.ContainedIn(want, have)
}

// EqualIgnoringID reports whether both tokens have the same type and data.
func (t Token) EqualIgnoringID(o Token) bool {
	if t.Type != o.Type {
		return false
	}
	a, errA := canonical.Normalize(t.Data)
	b, errB := canonical.Normalize(o.Data)
	return errA == nil && errB == nil && canonical.DeepEqual(a, b)
}

// GetTokensFrom lists the leaf tokens of e in preorder.
func GetTokensFrom(e Expression) []Token {
	var tokens []Token
	collectTokens(e, &tokens)
	return tokens
}

func collectTokens(e Expression, acc *[]Token) {
	switch t := e.(type) {
	case nil:
	case Token:
		*acc = append(*acc, t)
	case And:
		for _, item := range t.Items {
			collectTokens(item, acc)
		}
	case Or:
		for _, item := range t.Items {
			collectTokens(item, acc)
		}
	case Not:
		collectTokens(t.Item, acc)
	}
}

// IsExpressionQualified reports whether e names concrete entities only: a
// qualified token, or an And of qualified expressions. An Or never qualifies
// since only one branch needs to hold.
func IsExpressionQualified(e Expression) bool {
	switch t := e.(type) {
	case Token:
		return t.IsQualified()
	case And:
		for _, item := range t.Items {
			if !IsExpressionQualified(item) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// IsExpressionRejection reports whether every reachable token of e sits under
// an odd number of negations, meaning e asks for none of them.
func IsExpressionRejection(e Expression) bool {
	return isRejection(e, false)
}

func isRejection(e Expression, negative bool) bool {
	switch t := e.(type) {
	case nil:
		return false
	case Token:
		return negative
	case And:
		return allRejections(t.Items, negative)
	case Or:
		return allRejections(t.Items, negative)
	case Not:
		return isRejection(t.Item, !negative)
	}
	return false
}

func allRejections(items []Expression, negative bool) bool {
	for _, item := range items {
		if !isRejection(item, negative) {
			return false
		}
	}
	return negative
}

// ContainsTokenID reports whether a qualified token with id appears anywhere in e.
func ContainsTokenID(e Expression, id ID) bool {
	for _, token := range GetTokensFrom(e) {
		if token.ID == id {
			return true
		}
	}
	return false
}
