// Package template implements ${name} placeholder substitution.
//
// A template is parsed once into a list of tokens. Plain tokens hold literal
// text; variable tokens hold a placeholder that can be bound to a value. All
// occurrences of the same placeholder share a single variable, so binding a
// name once fills every occurrence.
//
// Syntax:
//
//	${name}        placeholder
//	${name::meta}  placeholder with metadata "meta"
//	$$             literal '$'
//	$x             literal "$x" for any x other than '{' or '$'
package template

import (
	"errors"
	"fmt"
	"strings"
)

const (
	escapeChar      = '$'
	startChar       = '{'
	metadataSepChar = ':'
	endChar         = '}'
)

var (
	// ErrNamelessPlaceholder is returned for "${}".
	ErrNamelessPlaceholder = errors.New("nameless placeholder ${} found")

	// ErrIncompletePlaceholder is returned when the text ends inside a placeholder.
	ErrIncompletePlaceholder = errors.New("incomplete placeholder detected at the end")

	// ErrUnknownVariable is returned by Bind for names not in the template.
	ErrUnknownVariable = errors.New("unknown variable")

	// ErrUnboundVariables is returned by Text(true) when variables remain unbound.
	ErrUnboundVariables = errors.New("the following variables are not bound")
)

func placeholder(name string) string {
	return "${" + name + "}"
}

// Token is one element of a parsed template.
type Token struct {
	variable bool

	// plain text for plain tokens, bound value for variables
	text  string
	bound bool

	name     string
	metadata string
	index    int

	prefix string
	suffix string
}

// IsVariable reports whether the token is a placeholder.
func (t *Token) IsVariable() bool { return t.variable }

// Name returns the placeholder name, or "" for plain tokens.
func (t *Token) Name() string { return t.name }

// Metadata returns the placeholder metadata, or "" if none.
func (t *Token) Metadata() string { return t.metadata }

// Index returns the variable index in order of first appearance, or -1.
func (t *Token) Index() int {
	if !t.variable {
		return -1
	}
	return t.index
}

// IsBound reports whether the token renders a value. Plain tokens always do.
func (t *Token) IsBound() bool {
	return !t.variable || t.bound
}

// Prefix returns text rendered before a variable's value.
func (t *Token) Prefix() string { return t.prefix }

// Suffix returns text rendered after a variable's value.
func (t *Token) Suffix() string { return t.suffix }

// Value returns the plain text, or prefix+value+suffix for variables.
func (t *Token) Value() string {
	if !t.variable {
		return t.text
	}
	return t.prefix + t.text + t.suffix
}

// SetValue replaces the plain text, or binds a variable.
func (t *Token) SetValue(v string) {
	if t.variable {
		t.bind(v)
		return
	}
	t.text = v
}

// SetSubString keeps text[start:len-fromEnd] and wraps it with prefix and
// suffix. For variables the trimmed value is rebound and prefix/suffix are
// rendered around it; for plain tokens they become part of the text.
func (t *Token) SetSubString(start, fromEnd int, prefix, suffix string) {
	sub := substring(t.text, start, len(t.text)-fromEnd)
	if t.variable {
		t.bind(sub)
		t.prefix = prefix
		t.suffix = suffix
		return
	}
	t.text = prefix + sub + suffix
}

func (t *Token) bind(v string) {
	t.text = v
	t.bound = true
}

func (t *Token) appendTo(b *strings.Builder) {
	if !t.variable {
		b.WriteString(t.text)
		return
	}
	b.WriteString(t.prefix)
	if t.bound {
		b.WriteString(t.text)
	} else {
		b.WriteString(placeholder(t.name))
	}
	b.WriteString(t.suffix)
}

func (t *Token) String() string {
	var b strings.Builder
	t.appendTo(&b)
	return b.String()
}

// substring clamps indices like a lenient substring would.
func substring(s string, start, end int) string {
	if start < 0 {
		start = 0
	}
	if end > len(s) {
		end = len(s)
	}
	if start >= end {
		return ""
	}
	return s[start:end]
}

// Template is a parsed template.
//
// Thread safety:
// A Template is not safe for concurrent binding. Use FreshCopy to give each
// goroutine its own instance.
type Template struct {
	variables map[string]*Token
	order     []string
	tokens    []*Token
}

// New parses text into a Template.
func New(text string) (*Template, error) {
	t := &Template{variables: make(map[string]*Token)}
	b := &tokenBuilder{tmpl: t}

	st := statePlain
	for _, c := range text {
		var err error
		st, err = st.next(c, b)
		if err != nil {
			return nil, err
		}
	}
	if st != statePlain {
		return nil, ErrIncompletePlaceholder
	}
	b.finishPlain()

	return t, nil
}

// MustNew is New that panics on error, for package-level templates.
func MustNew(text string) *Template {
	t, err := New(text)
	if err != nil {
		panic(fmt.Sprintf("template %q: %v", text, err))
	}
	return t
}

// FreshCopy returns a copy with the same structure and all variables unbound.
func (t *Template) FreshCopy() *Template {
	c := &Template{
		variables: make(map[string]*Token, len(t.variables)),
		order:     append([]string(nil), t.order...),
		tokens:    make([]*Token, 0, len(t.tokens)),
	}
	for name, v := range t.variables {
		c.variables[name] = &Token{variable: true, name: name, metadata: v.metadata, index: v.index}
	}
	for _, tok := range t.tokens {
		if tok.variable {
			c.tokens = append(c.tokens, c.variables[tok.name])
		} else {
			c.tokens = append(c.tokens, &Token{text: tok.text})
		}
	}
	return c
}

// PlaceholderNames returns the variable names in order of first appearance.
func (t *Template) PlaceholderNames() []string {
	return append([]string(nil), t.order...)
}

// Tokens returns the parsed tokens. Variables appear once per occurrence but
// occurrences of the same name are the same *Token.
func (t *Template) Tokens() []*Token {
	return t.tokens
}

// Bind sets the value of a placeholder.
func (t *Template) Bind(name, value string) error {
	if !t.TryBind(name, value) {
		return fmt.Errorf("%w '%s'", ErrUnknownVariable, name)
	}
	return nil
}

// TryBind sets the value of a placeholder and reports whether it exists.
func (t *Template) TryBind(name, value string) bool {
	v, ok := t.variables[name]
	if !ok {
		return false
	}
	v.bind(value)
	return true
}

// Index returns the variable index of name, or -1 if unknown.
func (t *Template) Index(name string) int {
	v, ok := t.variables[name]
	if !ok {
		return -1
	}
	return v.index
}

// Metadata returns the metadata of name. ok is false for unknown names and
// for placeholders without metadata.
func (t *Template) Metadata(name string) (string, bool) {
	v, ok := t.variables[name]
	if !ok || v.metadata == "" {
		return "", false
	}
	return v.metadata, true
}

// ReplaceBrackets swaps brackets around variables: for every variable whose
// left neighbour is plain text ending in oldOpen and whose right neighbour is
// plain text starting with oldClose, the brackets are cut from the plain tokens
// and newOpen/newClose are attached to the variable instead. The affected
// variables are returned.
func (t *Template) ReplaceBrackets(oldOpen, oldClose, newOpen, newClose string) []*Token {
	var replaced []*Token
	for i := 1; i < len(t.tokens)-1; i++ {
		if !t.tokens[i].variable {
			continue
		}
		left, right := t.tokens[i-1], t.tokens[i+1]
		if left.variable || right.variable {
			continue
		}
		if !strings.HasSuffix(left.text, oldOpen) || !strings.HasPrefix(right.text, oldClose) {
			continue
		}
		left.SetSubString(0, len(oldOpen), "", newOpen)
		right.SetSubString(len(oldClose), 0, newClose, "")
		replaced = append(replaced, t.tokens[i])
	}
	return replaced
}

// LeftNeighbor returns the token before the first inner occurrence of name.
func (t *Template) LeftNeighbor(name string) *Token {
	for i := 1; i < len(t.tokens)-1; i++ {
		if t.tokens[i].variable && t.tokens[i].name == name {
			return t.tokens[i-1]
		}
	}
	return nil
}

// RightNeighbor returns the token after the first inner occurrence of name.
func (t *Template) RightNeighbor(name string) *Token {
	for i := 1; i < len(t.tokens)-1; i++ {
		if t.tokens[i].variable && t.tokens[i].name == name {
			return t.tokens[i+1]
		}
	}
	return nil
}

// AllBound reports whether every variable has a value.
func (t *Template) AllBound() bool {
	for _, v := range t.variables {
		if !v.bound {
			return false
		}
	}
	return true
}

// Text renders the template. With complete set, unbound variables are an
// error listing their names; otherwise they render as ${name}.
func (t *Template) Text(complete bool) (string, error) {
	if complete {
		var unbound []string
		for _, name := range t.order {
			if !t.variables[name].bound {
				unbound = append(unbound, name)
			}
		}
		if len(unbound) > 0 {
			return "", fmt.Errorf("%w: %s", ErrUnboundVariables, strings.Join(unbound, " "))
		}
	}

	var b strings.Builder
	for _, tok := range t.tokens {
		tok.appendTo(&b)
	}
	return b.String(), nil
}

// String renders the template without the completeness check.
func (t *Template) String() string {
	s, _ := t.Text(false)
	return s
}

// Render is a shortcut that parses text, binds values and renders completely.
// Values for names that do not occur in text are ignored.
func Render(text string, values map[string]string) (string, error) {
	t, err := New(text)
	if err != nil {
		return "", err
	}
	for k, v := range values {
		t.TryBind(k, v)
	}
	return t.Text(true)
}
