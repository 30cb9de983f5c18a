package template

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantNames []string
		rendered  string
	}{
		{"empty", "", nil, ""},
		{"plain only", "hello world", nil, "hello world"},
		{"single placeholder", "hello ${name}!", []string{"name"}, "hello ${name}!"},
		{"escaped dollar", "costs $$5", nil, "costs $5"},
		{"dollar followed by text", "a$b", nil, "a$b"},
		{"repeated placeholder", "${a}-${b}-${a}", []string{"a", "b"}, "${a}-${b}-${a}"},
		{"single colon kept in name", "${a:b}", []string{"a:b"}, "${a:b}"},
		{"metadata", "${user::login name}", []string{"user"}, "${user}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl, err := New(tt.text)
			require.NoError(t, err)
			if len(tt.wantNames) == 0 {
				assert.Empty(t, tmpl.PlaceholderNames())
			} else {
				assert.Equal(t, tt.wantNames, tmpl.PlaceholderNames())
			}
			assert.Equal(t, tt.rendered, tmpl.String())
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
		want error
	}{
		{"nameless", "a ${} b", ErrNamelessPlaceholder},
		{"unterminated placeholder", "a ${name", ErrIncompletePlaceholder},
		{"trailing dollar", "a $", ErrIncompletePlaceholder},
		{"unterminated metadata", "${a::m", ErrIncompletePlaceholder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.text)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestBindAndText(t *testing.T) {
	tmpl := MustNew("${greeting}, ${name}! ${greeting} again.")

	require.NoError(t, tmpl.Bind("greeting", "Hi"))
	assert.False(t, tmpl.AllBound())

	_, err := tmpl.Text(true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnboundVariables))
	assert.Contains(t, err.Error(), "name")

	partial, err := tmpl.Text(false)
	require.NoError(t, err)
	assert.Equal(t, "Hi, ${name}! Hi again.", partial)

	require.NoError(t, tmpl.Bind("name", "Ada"))
	assert.True(t, tmpl.AllBound())

	text, err := tmpl.Text(true)
	require.NoError(t, err)
	assert.Equal(t, "Hi, Ada! Hi again.", text)
}

func TestBindUnknown(t *testing.T) {
	tmpl := MustNew("${a}")

	err := tmpl.Bind("b", "x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownVariable))
	assert.Contains(t, err.Error(), "'b'")
	assert.False(t, tmpl.TryBind("b", "x"))
	assert.True(t, tmpl.TryBind("a", "x"))
}

func TestIndexAndMetadata(t *testing.T) {
	tmpl := MustNew("${x::int} ${y} ${x}")

	assert.Equal(t, 0, tmpl.Index("x"))
	assert.Equal(t, 1, tmpl.Index("y"))
	assert.Equal(t, -1, tmpl.Index("z"))

	meta, ok := tmpl.Metadata("x")
	assert.True(t, ok)
	assert.Equal(t, "int", meta)

	_, ok = tmpl.Metadata("y")
	assert.False(t, ok)
	_, ok = tmpl.Metadata("z")
	assert.False(t, ok)
}

func TestFreshCopy(t *testing.T) {
	tmpl := MustNew("[${a}] ${b}")
	require.NoError(t, tmpl.Bind("a", "1"))
	require.NoError(t, tmpl.Bind("b", "2"))

	fresh := tmpl.FreshCopy()
	assert.False(t, fresh.AllBound())
	assert.Equal(t, "[${a}] ${b}", fresh.String())

	require.NoError(t, fresh.Bind("a", "x"))
	assert.Equal(t, "[1] 2", tmpl.String(), "original must not change")

	// plain tokens must not be shared either
	fresh.ReplaceBrackets("[", "]", "<", ">")
	assert.Equal(t, "[1] 2", tmpl.String())
}

func TestReplaceBrackets(t *testing.T) {
	tmpl := MustNew("select * where id = '${id}' and name = '${name}'")
	require.NoError(t, tmpl.Bind("id", "42"))
	require.NoError(t, tmpl.Bind("name", "x"))

	replaced := tmpl.ReplaceBrackets("'", "'", "", "")
	require.Len(t, replaced, 2)
	assert.Equal(t, "id", replaced[0].Name())
	assert.Equal(t, "name", replaced[1].Name())

	text, err := tmpl.Text(true)
	require.NoError(t, err)
	assert.Equal(t, "select * where id = 42 and name = x", text)
}

func TestReplaceBrackets_MovesBracketsToVariable(t *testing.T) {
	tmpl := MustNew("a(${v})b")
	require.NoError(t, tmpl.Bind("v", "1"))

	replaced := tmpl.ReplaceBrackets("(", ")", "<", ">")
	require.Len(t, replaced, 1)

	assert.Equal(t, "a<1>b", tmpl.String())
}

func TestNeighbors(t *testing.T) {
	tmpl := MustNew("left ${v} right")

	left := tmpl.LeftNeighbor("v")
	require.NotNil(t, left)
	assert.Equal(t, "left ", left.Value())

	right := tmpl.RightNeighbor("v")
	require.NotNil(t, right)
	assert.Equal(t, " right", right.Value())

	assert.Nil(t, tmpl.LeftNeighbor("missing"))
	assert.Nil(t, MustNew("${v}").LeftNeighbor("v"), "edge variables have no inner neighbours")
}

func TestTokens(t *testing.T) {
	tmpl := MustNew("a${x}b${x}")
	tokens := tmpl.Tokens()
	require.Len(t, tokens, 4)

	assert.False(t, tokens[0].IsVariable())
	assert.Equal(t, -1, tokens[0].Index())
	assert.True(t, tokens[0].IsBound())

	assert.True(t, tokens[1].IsVariable())
	assert.Same(t, tokens[1], tokens[3])
	assert.False(t, tokens[1].IsBound())
}

func TestRender(t *testing.T) {
	out, err := Render("${host}-${timestamp}_", map[string]string{
		"host":      "node1",
		"timestamp": "20240101",
		"unused":    "ignored",
	})
	require.NoError(t, err)
	assert.Equal(t, "node1-20240101_", out)

	_, err = Render("${host}", nil)
	assert.True(t, errors.Is(err, ErrUnboundVariables))
}

func TestMustNewPanics(t *testing.T) {
	assert.Panics(t, func() { MustNew("${") })
}
