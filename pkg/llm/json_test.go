package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanResponse(t *testing.T) {
	assert.Equal(t, `{"a":1}`, CleanResponse("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, CleanResponse("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, CleanResponse(`  {"a":1}  `))
}

func TestExtractJSON(t *testing.T) {
	t.Run("object with surrounding prose", func(t *testing.T) {
		got := ExtractJSON(`Here is the result: {"score": 0.8, "note": "ok"} hope that helps`)
		assert.Equal(t, `{"score": 0.8, "note": "ok"}`, got)
	})

	t.Run("array", func(t *testing.T) {
		got := ExtractJSON("```json\n[{\"id\":\"a\"},{\"id\":\"b\"}]\n```")
		assert.Equal(t, `[{"id":"a"},{"id":"b"}]`, got)
	})

	t.Run("largest balanced wins", func(t *testing.T) {
		got := ExtractJSON(`{"x":1} and then {"a":{"b":2},"c":3}`)
		assert.Equal(t, `{"a":{"b":2},"c":3}`, got)
	})

	t.Run("braces inside strings ignored", func(t *testing.T) {
		got := ExtractJSON(`{"text": "a } inside"}`)
		assert.Equal(t, `{"text": "a } inside"}`, got)
	})

	t.Run("unbalanced yields empty", func(t *testing.T) {
		assert.Empty(t, ExtractJSON(`{"never": "closed"`))
		assert.Empty(t, ExtractJSON("no json here"))
	})
}
