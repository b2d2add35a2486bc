package keyword

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenInSet(t *testing.T) {
	assert := assert.New(t)

	keywords := []string{
		"example",
		"bunch",
	}

	assert.True(TokenInSet("example", keywords))
	assert.False(TokenInSet("Example", keywords))
	assert.False(TokenInSet("elephant", keywords))
}

func TestContainsPhrase(t *testing.T) {
	assert := assert.New(t)

	toks := []string{"please", "go", "touch", "grass", "today"}
	assert.True(ContainsPhrase(toks, []string{"touch", "grass"}))
	assert.True(ContainsPhrase(toks, []string{"please"}))
	assert.False(ContainsPhrase(toks, []string{"grass", "touch"}))
	assert.False(ContainsPhrase(toks, []string{}))
	assert.False(ContainsPhrase([]string{"go"}, []string{"go", "touch"}))
}

func TestSlugify(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("killyourself", Slugify("k.i.l.l  Y-O-U-R-S-E-L-F"))
	assert.Equal("", Slugify("!!! ..."))
}

func TestContainsSlug(t *testing.T) {
	assert := assert.New(t)

	assert.True(ContainsSlug([]string{"just", "killyourself"}, "killyourself"))
	assert.True(ContainsSlug([]string{"k", "i", "l", "l", "y", "o", "u", "r", "s", "e", "l", "f"}, "killyourself"))
	assert.True(ContainsSlug([]string{"ok", "kill", "your", "self", "now"}, "killyourself"))
	assert.True(ContainsSlug(TokenizeText("K-Y-S"), "kys"))

	// must start and end on token boundaries
	assert.False(ContainsSlug([]string{"upskill", "yourself"}, "killyourself"))
	assert.False(ContainsSlug([]string{"kill", "yourselfie"}, "killyourself"))
	assert.False(ContainsSlug([]string{"skys", "the", "limit"}, "kys"))
	assert.False(ContainsSlug([]string{"kill"}, "killyourself"))
	assert.False(ContainsSlug([]string{"anything"}, ""))
}

func TestSlugifyPunctuation(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("kys", Slugify("K.Y.S"))
	assert.Equal("killyourself", Slugify("Kill Your-Self!"))
	assert.Equal("", Slugify("..."))
}
