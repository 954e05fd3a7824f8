package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/paperlens/backend/internal/analysis"
)

func TestResultCache_GetSetClear(t *testing.T) {
	c := NewResultCache()
	assert.Nil(t, c.Get(analysis.TabGlossary))
	assert.False(t, c.Has(analysis.TabGlossary))

	terms := []analysis.GlossaryTerm{{Term: "BLEU", Definition: "A metric."}}
	c.Set(analysis.TabGlossary, terms)
	assert.True(t, c.Has(analysis.TabGlossary))
	assert.Equal(t, terms, c.Get(analysis.TabGlossary))

	c.Set(analysis.TabGlossary, nil)
	assert.False(t, c.Has(analysis.TabGlossary))

	c.Set(analysis.TabReferences, []analysis.Reference{})
	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestResultCache_Prime(t *testing.T) {
	a := &analysis.Analysis{
		Core:       analysis.Core{Title: "T", Takeaways: []string{"x"}},
		References: []analysis.Reference{},
	}

	c := NewResultCache()
	c.Prime(a)

	assert.True(t, c.Has(analysis.TabOverview))
	assert.True(t, c.Has(analysis.TabTakeaways))
	assert.True(t, c.Has(analysis.TabReferences))
	assert.False(t, c.Has(analysis.TabCritique))
	assert.False(t, c.Has(analysis.TabGlossary))
}
