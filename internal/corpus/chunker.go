package corpus

import "strings"

// Chunker splits document text into overlapping windows. Size and Overlap are
// character budgets; windows break on word boundaries.
type Chunker struct {
	Size    int
	Overlap int
}

func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 800
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 8
	}
	return &Chunker{Size: size, Overlap: overlap}
}

// Split chunks a single document. Whitespace-only documents yield no chunks.
func (c *Chunker) Split(doc Document) []Chunk {
	words := strings.Fields(doc.Text)
	if len(words) == 0 {
		return nil
	}

	var chunks []Chunk
	var current []string
	currentSize := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, Chunk{
			ChunkID: len(chunks),
			Source:  doc.Name,
			Text:    strings.Join(current, " "),
		})
	}

	for _, word := range words {
		wordLen := len(word) + 1

		if currentSize+wordLen > c.Size && len(current) > 0 {
			flush()

			tail := overlapTail(current, c.Overlap)
			current = append([]string(nil), tail...)
			currentSize = 0
			for _, w := range current {
				currentSize += len(w) + 1
			}
		}

		current = append(current, word)
		currentSize += wordLen
	}

	flush()

	return chunks
}

// SplitAll chunks every document in order.
func (c *Chunker) SplitAll(docs []Document) []Chunk {
	var all []Chunk
	for _, doc := range docs {
		all = append(all, c.Split(doc)...)
	}
	return all
}

// overlapTail returns the trailing words whose combined length fits the
// overlap budget.
func overlapTail(words []string, budget int) []string {
	if budget <= 0 {
		return nil
	}
	size := 0
	start := len(words)
	for i := len(words) - 1; i >= 0; i-- {
		size += len(words[i]) + 1
		if size > budget {
			break
		}
		start = i
	}
	return words[start:]
}
