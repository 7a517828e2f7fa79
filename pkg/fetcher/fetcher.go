package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/xhad/devrag/internal/apperr"
	"github.com/xhad/devrag/internal/models"
	"github.com/xhad/devrag/internal/types"
	"github.com/xhad/devrag/pkg/normalizer"
)

// maxPerPage is the largest page the dev.to API serves.
const maxPerPage = 1000

type FetcherConfig struct {
	BaseURL      string
	RequestDelay time.Duration
	Timeout      time.Duration
	OnProgress   func(articleID string)
	Logger       *log.Logger
}

type Fetcher struct {
	config  FetcherConfig
	client  *http.Client
	limiter *rate.Limiter
	store   types.DocumentStore
	logger  *log.Logger
}

// Report summarizes one fetch run. Failures holds one record per article that
// could not be fetched; the run continues past them.
type Report struct {
	Listed   int
	Skipped  int
	Fetched  int
	Failures []apperr.ItemError
}

func NewWithConfig(config FetcherConfig, store types.DocumentStore) (*Fetcher, error) {
	if config.BaseURL == "" {
		config.BaseURL = "https://dev.to/api"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.RequestDelay < 0 {
		return nil, fmt.Errorf("%w: request delay must not be negative", apperr.ErrValidation)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: document store is required", apperr.ErrValidation)
	}
	if _, err := url.ParseRequestURI(config.BaseURL); err != nil {
		return nil, fmt.Errorf("%w: invalid base url: %v", apperr.ErrValidation, err)
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	limit := rate.Inf
	if config.RequestDelay > 0 {
		limit = rate.Every(config.RequestDelay)
	}

	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Fetcher{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		store:   store,
		logger:  logger,
	}, nil
}

// Fetch lists up to limit articles for tag and stores the ones not seen
// before. The listing is a single page; limit only sets its size.
func (f *Fetcher) Fetch(ctx context.Context, tag string, limit int) (*Report, error) {
	if strings.TrimSpace(tag) == "" {
		return nil, fmt.Errorf("%w: tag must not be empty", apperr.ErrValidation)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", apperr.ErrValidation, limit)
	}

	existing, err := f.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(existing))
	for _, doc := range existing {
		known[doc.ID] = true
	}

	entries, err := f.list(ctx, tag, min(limit, maxPerPage))
	if err != nil {
		return nil, err
	}
	f.logger.Printf("Found %d articles for tag %q", len(entries), tag)

	report := &Report{Listed: len(entries)}
	var fetched []models.Document

	for i, entry := range entries {
		id, err := articleID(entry)
		if err != nil {
			f.logger.Printf("Skipping listing entry %d: %v", i+1, err)
			report.Failures = append(report.Failures, apperr.ItemError{ID: fmt.Sprintf("#%d", i+1), Err: err})
			continue
		}
		if known[id] {
			report.Skipped++
			continue
		}

		if f.config.OnProgress != nil {
			f.config.OnProgress(id)
		}

		doc, err := f.fetchArticle(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return report, fmt.Errorf("%w: %v", apperr.ErrTransport, ctx.Err())
			}
			f.logger.Printf("Failed to fetch article %s: %v", id, err)
			report.Failures = append(report.Failures, apperr.ItemError{ID: id, Err: err})
			continue
		}

		known[id] = true
		fetched = append(fetched, doc)
	}

	report.Fetched = len(fetched)
	if len(fetched) == 0 {
		f.logger.Printf("No new articles fetched")
		return report, nil
	}

	if err := f.store.Save(ctx, append(existing, fetched...)); err != nil {
		return report, err
	}
	f.logger.Printf("Stored %d new articles (%d total)", len(fetched), len(existing)+len(fetched))
	return report, nil
}

func (f *Fetcher) list(ctx context.Context, tag string, perPage int) ([]any, error) {
	params := url.Values{}
	params.Set("tag", tag)
	params.Set("per_page", strconv.Itoa(perPage))

	body, err := f.get(ctx, f.config.BaseURL+"/articles?"+params.Encode())
	if err != nil {
		return nil, err
	}

	value, err := decode(body)
	if err != nil {
		return nil, fmt.Errorf("%w: listing: %v", apperr.ErrTransport, err)
	}
	entries, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: listing is not an array", apperr.ErrValidation)
	}
	return entries, nil
}

func (f *Fetcher) fetchArticle(ctx context.Context, id string) (models.Document, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return models.Document{}, err
	}

	body, err := f.get(ctx, f.config.BaseURL+"/articles/"+url.PathEscape(id))
	if err != nil {
		return models.Document{}, err
	}

	value, err := decode(body)
	if err != nil {
		return models.Document{}, fmt.Errorf("%w: %v", apperr.ErrTransport, err)
	}
	article, ok := value.(map[string]any)
	if !ok || len(article) == 0 {
		return models.Document{}, fmt.Errorf("%w: invalid article data", apperr.ErrValidation)
	}

	html := stringField(article, "body_html", "")
	if html == "" {
		f.logger.Printf("Warning: no HTML content for article %s", id)
	}
	markdown, err := normalizer.Normalize(html)
	if err != nil {
		return models.Document{}, fmt.Errorf("%w: normalize: %v", apperr.ErrValidation, err)
	}

	return models.Document{
		ID:        id,
		Metadata:  articleMetadata(article),
		Content:   models.Content{HTML: html, Markdown: markdown},
		CrawledAt: time.Now().UTC(),
	}, nil
}

func (f *Fetcher) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrTransport, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: received status code %d for %s", apperr.ErrTransport, resp.StatusCode, endpoint)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", apperr.ErrTransport, endpoint, err)
	}
	return body, nil
}

func decode(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	return value, nil
}

func articleID(entry any) (string, error) {
	obj, ok := entry.(map[string]any)
	if !ok || len(obj) == 0 {
		return "", fmt.Errorf("%w: listing entry is not an object", apperr.ErrValidation)
	}
	switch id := obj["id"].(type) {
	case json.Number:
		return id.String(), nil
	case string:
		if id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: listing entry has no id", apperr.ErrValidation)
}

func articleMetadata(article map[string]any) models.Metadata {
	author := models.Author{Name: "Unknown", Username: "unknown"}
	if user, ok := article["user"].(map[string]any); ok && len(user) > 0 {
		author.Name = stringField(user, "name", "Unknown")
		author.Username = stringField(user, "username", "unknown")
	}

	return models.Metadata{
		Source:        "dev.to",
		TypeOf:        stringField(article, "type_of", "article"),
		Title:         stringField(article, "title", "Untitled"),
		Description:   stringField(article, "description", ""),
		Author:        author,
		URL:           stringField(article, "url", ""),
		PublishedTime: stringField(article, "published_timestamp", ""),
		ReadingTime:   intField(article, "reading_time_minutes"),
		Language:      stringField(article, "language", ""),
		Tags:          articleTags(article),
		Reactions:     intField(article, "public_reactions_count"),
	}
}

// articleTags accepts tags as an array or a comma separated string. The
// detail endpoint sends both "tags" and "tag_list" in either shape.
func articleTags(article map[string]any) []string {
	set := map[string]bool{}
	for _, key := range []string{"tags", "tag_list"} {
		switch v := article[key].(type) {
		case []any:
			for _, t := range v {
				if s, ok := t.(string); ok {
					set[strings.TrimSpace(s)] = true
				}
			}
		case string:
			for _, s := range strings.Split(v, ",") {
				set[strings.TrimSpace(s)] = true
			}
		}
	}
	delete(set, "")

	tags := make([]string, 0, len(set))
	for t := range set {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

func stringField(obj map[string]any, key, fallback string) string {
	if s, ok := obj[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

func intField(obj map[string]any, key string) int {
	n, ok := obj[key].(json.Number)
	if !ok {
		return 0
	}
	if i, err := n.Int64(); err == nil {
		return int(i)
	}
	if f, err := n.Float64(); err == nil {
		return int(f)
	}
	return 0
}
