package models

import "time"

type Author struct {
	Name     string `json:"name"`
	Username string `json:"username"`
}

type Metadata struct {
	Source        string   `json:"source"`
	TypeOf        string   `json:"type_of"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Author        Author   `json:"author"`
	URL           string   `json:"url"`
	PublishedTime string   `json:"published_time"`
	ReadingTime   int      `json:"reading_time"`
	Language      string   `json:"language"`
	Tags          []string `json:"tags"`
	Reactions     int      `json:"reactions"`
}

type Content struct {
	HTML     string `json:"html"`
	Markdown string `json:"markdown"`
}

// Document is a fetched article. It is never modified after the fetch.
type Document struct {
	ID        string    `json:"id"`
	Metadata  Metadata  `json:"metadata"`
	Content   Content   `json:"content"`
	CrawledAt time.Time `json:"crawled_at"`
}

type ChunkMetadata struct {
	Metadata
	ChunkLen int    `json:"chunk_len"`
	Section  string `json:"section,omitempty"`
}

type Chunk struct {
	Text       string        `json:"text"`
	Metadata   ChunkMetadata `json:"metadata"`
	ArticleID  string        `json:"article_id"`
	ChunkIndex int           `json:"chunk_index"`
}

// Payload flattens the chunk into the map stored next to its vector.
func (c Chunk) Payload() map[string]any {
	m := c.Metadata
	tags := m.Tags
	if tags == nil {
		tags = []string{}
	}
	return map[string]any{
		"source":         m.Source,
		"type_of":        m.TypeOf,
		"title":          m.Title,
		"description":    m.Description,
		"author":         map[string]any{"name": m.Author.Name, "username": m.Author.Username},
		"url":            m.URL,
		"published_time": m.PublishedTime,
		"reading_time":   m.ReadingTime,
		"language":       m.Language,
		"tags":           tags,
		"reactions":      m.Reactions,
		"chunk_len":      m.ChunkLen,
		"section":        m.Section,
		"text":           c.Text,
		"article_id":     c.ArticleID,
		"chunk_index":    c.ChunkIndex,
	}
}

type VectorPoint struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

type ScoredPoint struct {
	ID      string
	Score   float32
	Payload map[string]any
}
