package pgbackend

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVectorLiteral(t *testing.T) {
	assert.Equal(t, "[1,0.5,-0.25]", VectorLiteral([]float32{1, 0.5, -0.25}))
	assert.Equal(t, "[]", VectorLiteral(nil))
}

func TestQueryTerms(t *testing.T) {
	t.Run("drops stopwords and dedupes", func(t *testing.T) {
		terms := queryTerms("Wie viel kostet ein Bauantrag für den Bauantrag?")
		assert.Equal(t, []string{"kostet", "bauantrag"}, terms)
	})

	t.Run("lowercases and splits on punctuation", func(t *testing.T) {
		terms := queryTerms("GmbH/AG-Gründung, Stuttgart!")
		assert.Equal(t, []string{"gmbh", "ag", "gründung", "stuttgart"}, terms)
	})

	t.Run("stopword-only query yields nothing", func(t *testing.T) {
		assert.Empty(t, queryTerms("wie ist das?"))
	})
}
