// Package payload builds the synthetic records written by each cycle.
package payload

import (
	"math/rand"
	"strconv"
	"strings"
	"time"

	"crudstress/internal/target"
)

const keywordCount = 3

// DefaultKeyword is searched for when none is configured. It is part of the
// planted vocabulary, so searches find matches.
const DefaultKeyword = "mongodb"

var keywords = []string{
	"mongodb", "postgresql", "elasticsearch", "analysis", "report", "benchmark",
	"index", "transaction", "replication", "scalability", "throughput", "jsonb",
	"optimization", "asynchronous", "journaling", "aggregation",
}

var lorem = []string{
	"lorem", "ipsum", "dolor", "sit", "amet", "consectetur", "adipiscing", "elit",
	"curabitur", "vitae", "hendrerit", "augue", "morbi", "ac", "neque", "eu",
	"nisl", "sollicitudin", "tempor", "sed", "erat", "phasellus", "condimentum",
	"magna", "cras", "euismod", "sapien", "non", "ligula", "auctor", "semper",
	"quisque", "ut", "eget", "ultricies", "aliquam", "nunc", "molestie", "lacus",
	"sodales", "efficitur", "mauris", "convallis", "nisi", "volutpat", "massa",
	"sem", "nec", "eros", "nullam", "feugiat", "lacinia", "duis", "pretium",
	"vel", "finibus", "vivamus", "quis", "dignissim", "diam", "aenean",
	"imperdiet", "ante", "in", "congue", "tempus", "nibh", "consequat",
	"laoreet", "porta", "blandit", "donec", "facilisis", "ultrices", "risus",
	"posuere", "iaculis", "arcu", "mi", "vestibulum", "primis", "faucibus",
	"orci", "luctus", "et", "cubilia", "curae", "suspendisse", "potenti",
	"tortor", "felis", "velit", "maecenas", "tincidunt", "turpis", "mollis",
	"est", "bibendum", "aliquet", "libero", "maximus", "nulla", "fusce",
	"pulvinar", "rutrum", "odio", "purus", "commodo", "tellus", "pharetra",
}

// Generator is owned by a single worker; it is not safe for concurrent use.
type Generator struct {
	words int
	rnd   *rand.Rand
}

// New returns a generator producing words-long filler text. words <= 0
// disables the text field.
func New(words int, seed int64) *Generator {
	return &Generator{words: words, rnd: rand.New(rand.NewSource(seed))}
}

// Record builds the payload for one work item.
func (g *Generator) Record(item target.WorkItem, now time.Time) target.Record {
	return target.Record{
		Key:       item.Key(),
		Seq:       item.Seq,
		Name:      "User" + strconv.FormatInt(item.Seq, 10),
		Text:      g.Text(),
		CreatedAt: now,
	}
}

// Text returns a rotating slice of lorem ipsum with a few vocabulary
// keywords planted at random positions.
func (g *Generator) Text() string {
	if g.words <= 0 {
		return ""
	}
	out := make([]string, g.words)
	start := g.rnd.Intn(len(lorem))
	for i := range out {
		out[i] = lorem[(start+i)%len(lorem)]
	}
	for i := 0; i < keywordCount; i++ {
		out[g.rnd.Intn(g.words)] = keywords[g.rnd.Intn(len(keywords))]
	}
	return strings.Join(out, " ")
}
