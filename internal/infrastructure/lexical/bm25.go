// Package lexical ranks corpus passages by BM25 over a snapshot taken on the
// first search.
package lexical

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/kirillkom/book-qa-assistant/internal/core/domain"
	"github.com/kirillkom/book-qa-assistant/internal/core/ports"
	"github.com/kirillkom/book-qa-assistant/internal/core/textproc"
)

const (
	defaultK1 = 1.5
	defaultB  = 0.75
)

type Options struct {
	K1 float64
	B  float64
}

func (o Options) withDefaults() Options {
	if o.K1 <= 0 {
		o.K1 = defaultK1
	}
	if o.B <= 0 {
		o.B = defaultB
	}
	return o
}

type document struct {
	passage domain.Passage
	tf      map[string]int
	length  int
}

type index struct {
	docs   []document
	df     map[string]int
	avgLen float64
}

// Index implements ports.LexicalSearcher. The index is built once and shared
// read-only; a failed build is retried by the next search.
type Index struct {
	source ports.CorpusSource
	logger *slog.Logger
	opts   Options

	mu    sync.Mutex
	built *index
}

func New(source ports.CorpusSource, logger *slog.Logger, opts Options) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{source: source, logger: logger, opts: opts.withDefaults()}
}

func (x *Index) Search(ctx context.Context, tokens []string, k int) ([]domain.Passage, error) {
	if k <= 0 || len(tokens) == 0 {
		return nil, nil
	}
	idx, err := x.load(ctx)
	if err != nil {
		return nil, err
	}
	return idx.rank(tokens, k, x.opts), nil
}

func (x *Index) load(ctx context.Context) (*index, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.built != nil {
		return x.built, nil
	}

	passages, err := x.source.Snapshot(ctx)
	if err != nil {
		x.logger.Warn("lexical_index_build_failed", "error", err)
		return nil, fmt.Errorf("build lexical index: %w", err)
	}
	x.built = build(passages)
	x.logger.Info("lexical_index_built", "documents", len(x.built.docs), "terms", len(x.built.df))
	return x.built, nil
}

func build(passages []domain.Passage) *index {
	idx := &index{
		docs: make([]document, 0, len(passages)),
		df:   make(map[string]int, 1024),
	}
	total := 0
	for _, p := range passages {
		tokens := textproc.Tokens(p.Text)
		if len(tokens) == 0 {
			continue
		}
		tf := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			tf[tok]++
		}
		for term := range tf {
			idx.df[term]++
		}
		idx.docs = append(idx.docs, document{passage: p, tf: tf, length: len(tokens)})
		total += len(tokens)
	}
	if len(idx.docs) > 0 {
		idx.avgLen = float64(total) / float64(len(idx.docs))
	}
	return idx
}

type hit struct {
	doc   int
	score float64
}

// queryTerms returns the distinct indexed tokens in sorted order so scores
// are summed in the same order on every call.
func (idx *index) queryTerms(tokens []string) []string {
	terms := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if _, ok := idx.df[tok]; ok {
			terms = append(terms, tok)
		}
	}
	slices.Sort(terms)
	return slices.Compact(terms)
}

func (idx *index) rank(tokens []string, k int, opts Options) []domain.Passage {
	if len(idx.docs) == 0 {
		return nil
	}
	terms := idx.queryTerms(tokens)
	if len(terms) == 0 {
		return nil
	}

	n := float64(len(idx.docs))
	hits := make([]hit, 0, 64)
	for i, doc := range idx.docs {
		score := 0.0
		for _, term := range terms {
			freq := float64(doc.tf[term])
			if freq == 0 {
				continue
			}
			df := float64(idx.df[term])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			norm := opts.K1 * (1 - opts.B + opts.B*float64(doc.length)/idx.avgLen)
			score += idf * (freq * (opts.K1 + 1)) / (freq + norm)
		}
		if score > 0 {
			hits = append(hits, hit{doc: i, score: score})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > k {
		hits = hits[:k]
	}
	out := make([]domain.Passage, 0, len(hits))
	for _, h := range hits {
		p := idx.docs[h.doc].passage
		p.Score = h.score
		out = append(out, p)
	}
	return out
}
