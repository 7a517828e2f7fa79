package processor

import (
	"fmt"
	"log"

	"github.com/xhad/devrag/internal/apperr"
	"github.com/xhad/devrag/internal/models"
)

// Separators are tried coarsest first when choosing where a chunk ends.
var separators = []string{"\n\n", "\n", " "}

type ProcessorConfig struct {
	ChunkSize    int
	ChunkOverlap int
	Logger       *log.Logger
}

type Processor struct {
	config ProcessorConfig
	logger *log.Logger
}

func NewWithConfig(config ProcessorConfig) (*Processor, error) {
	if config.ChunkSize == 0 {
		config.ChunkSize = 1000
	}
	if config.ChunkSize < 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive", apperr.ErrValidation)
	}
	if config.ChunkOverlap < 0 || config.ChunkOverlap >= config.ChunkSize {
		return nil, fmt.Errorf("%w: chunk overlap must be in [0, %d)", apperr.ErrValidation, config.ChunkSize)
	}

	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Processor{
		config: config,
		logger: logger,
	}, nil
}

// Process splits every document's markdown into chunks, in input order.
// Documents without markdown produce no chunks.
func (p *Processor) Process(docs []models.Document) []models.Chunk {
	var chunks []models.Chunk

	for _, doc := range docs {
		text := doc.Content.Markdown
		if text == "" {
			p.logger.Printf("Skipping article %s: no content", doc.ID)
			continue
		}

		sections := findSections(text)
		spans := p.spans(text)
		for i, span := range spans {
			chunkText := text[span.start:span.end]
			// the section is taken where the chunk's new content begins
			from := span.start
			if i > 0 {
				from = spans[i-1].end
			}
			chunks = append(chunks, models.Chunk{
				Text: chunkText,
				Metadata: models.ChunkMetadata{
					Metadata: copyMetadata(doc.Metadata),
					ChunkLen: len([]rune(chunkText)),
					Section:  sections.at(from, span.end),
				},
				ArticleID:  doc.ID,
				ChunkIndex: i,
			})
		}
	}

	return chunks
}

// Split returns the chunk texts for a single piece of text.
func (p *Processor) Split(text string) []string {
	var out []string
	for _, span := range p.spans(text) {
		out = append(out, text[span.start:span.end])
	}
	return out
}

// Overlap is the number of runes shared by adjacent chunks.
func (p *Processor) Overlap() int {
	return p.config.ChunkOverlap
}

type span struct {
	start, end int // byte offsets
}

// spans works on runes so chunk sizes and overlap count characters, not bytes.
// Chunk i+1 starts exactly overlap runes before chunk i ends.
func (p *Processor) spans(text string) []span {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	offsets := make([]int, n+1)
	pos := 0
	for i, r := range runes {
		offsets[i] = pos
		pos += len(string(r))
	}
	offsets[n] = pos

	size, overlap := p.config.ChunkSize, p.config.ChunkOverlap

	var out []span
	start := 0
	for {
		if n-start <= size {
			out = append(out, span{offsets[start], offsets[n]})
			return out
		}
		end := cutPoint(runes, start, start+overlap+1, start+size)
		out = append(out, span{offsets[start], offsets[end]})
		start = end - overlap
	}
}

// cutPoint returns the end of the last separator lying within the chunk and
// ending in [lo, hi], trying each separator in turn and falling back to a hard
// cut at hi.
func cutPoint(runes []rune, start, lo, hi int) int {
	for _, sep := range separators {
		s := []rune(sep)
		for end := hi; end >= lo; end-- {
			if end-len(s) >= start && string(runes[end-len(s):end]) == sep {
				return end
			}
		}
	}
	return hi
}

func copyMetadata(m models.Metadata) models.Metadata {
	if m.Tags != nil {
		m.Tags = append([]string(nil), m.Tags...)
	}
	return m
}
