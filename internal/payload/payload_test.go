package payload

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"crudstress/internal/target"
)

func TestRecord(t *testing.T) {
	g := New(50, 1)
	now := time.Now()
	item := target.WorkItem{Seq: 12, RunTag: "tag"}

	rec := g.Record(item, now)
	assert.Equal(t, "tag-12", rec.Key)
	assert.Equal(t, int64(12), rec.Seq)
	assert.Equal(t, "User12", rec.Name)
	assert.Equal(t, now, rec.CreatedAt)
	assert.Len(t, strings.Fields(rec.Text), 50)
}

func TestText_PlantsKeywords(t *testing.T) {
	vocab := make(map[string]bool, len(keywords))
	for _, k := range keywords {
		vocab[k] = true
	}
	text := New(1000, 7).Text()

	found := 0
	for _, w := range strings.Fields(text) {
		if vocab[w] {
			found++
		}
	}
	assert.GreaterOrEqual(t, found, 1)
	assert.LessOrEqual(t, found, keywordCount)
}

func TestDefaultKeywordIsPlanted(t *testing.T) {
	assert.Contains(t, keywords, DefaultKeyword)
}

func TestText_Disabled(t *testing.T) {
	assert.Empty(t, New(0, 1).Text())
	assert.Empty(t, New(0, 1).Record(target.WorkItem{Seq: 1}, time.Now()).Text)
}

func TestGenerator_SeedIsDeterministic(t *testing.T) {
	assert.Equal(t, New(20, 3).Text(), New(20, 3).Text())
}
