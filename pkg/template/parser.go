package template

import "strings"

type state int

const (
	statePlain state = iota
	stateStartingPlaceholder
	statePlaceholder
	stateStartingMetadata
	stateMetadata
)

func (s state) String() string {
	switch s {
	case statePlain:
		return "PLAIN"
	case stateStartingPlaceholder:
		return "STARTING_PLACEHOLDER"
	case statePlaceholder:
		return "PLACEHOLDER"
	case stateStartingMetadata:
		return "STARTING_PLACEHOLDER_METADATA"
	case stateMetadata:
		return "PLACEHOLDER_METADATA"
	default:
		return "UNKNOWN"
	}
}

// next consumes one character and returns the following state.
func (s state) next(c rune, b *tokenBuilder) (state, error) {
	switch s {
	case statePlain:
		if c == escapeChar {
			return stateStartingPlaceholder, nil
		}
		b.add(c)
		return statePlain, nil

	case stateStartingPlaceholder:
		switch c {
		case escapeChar:
			b.add(escapeChar)
			return statePlain, nil
		case startChar:
			b.finishPlain()
			return statePlaceholder, nil
		default:
			b.add(escapeChar)
			b.add(c)
			return statePlain, nil
		}

	case statePlaceholder:
		switch c {
		case endChar:
			return statePlain, b.finishPlaceholder()
		case metadataSepChar:
			return stateStartingMetadata, nil
		default:
			b.add(c)
			return statePlaceholder, nil
		}

	case stateStartingMetadata:
		if c == metadataSepChar {
			return stateMetadata, nil
		}
		// a single ':' belongs to the name
		b.add(metadataSepChar)
		b.add(c)
		return statePlaceholder, nil

	case stateMetadata:
		if c == endChar {
			return statePlain, b.finishPlaceholder()
		}
		b.addMetadata(c)
		return stateMetadata, nil
	}

	return s, nil
}

type tokenBuilder struct {
	tmpl     *Template
	text     strings.Builder
	metadata strings.Builder
}

func (b *tokenBuilder) add(c rune) {
	b.text.WriteRune(c)
}

func (b *tokenBuilder) addMetadata(c rune) {
	b.metadata.WriteRune(c)
}

func (b *tokenBuilder) finishPlain() {
	if b.text.Len() == 0 {
		return
	}
	b.tmpl.tokens = append(b.tmpl.tokens, &Token{text: b.text.String()})
	b.text.Reset()
}

func (b *tokenBuilder) finishPlaceholder() error {
	name := b.text.String()
	if name == "" {
		return ErrNamelessPlaceholder
	}

	t := b.tmpl
	v, ok := t.variables[name]
	if !ok {
		v = &Token{
			variable: true,
			name:     name,
			metadata: b.metadata.String(),
			index:    len(t.order),
		}
		t.variables[name] = v
		t.order = append(t.order, name)
	}
	t.tokens = append(t.tokens, v)

	b.text.Reset()
	b.metadata.Reset()
	return nil
}
