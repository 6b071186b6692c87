package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"apicore/internal/models"
	"apicore/internal/pagination"
)

const defaultJSONCacheTTL = 5 * time.Minute

// JSONItems implements the Items interface using a JSON file for persistence.
// It keeps an in-memory cache that is refreshed when the file changes.
type JSONItems struct {
	filePath     string
	cacheTTL     time.Duration
	mu           sync.RWMutex
	data         *JSONData
	lastModified time.Time
	cacheExpiry  time.Time
}

// JSONData represents the structure of data stored in JSON format
type JSONData struct {
	Items       []models.Item `json:"items"`
	LastUpdated time.Time     `json:"last_updated"`
}

// NewJSONItems creates a new JSON-backed item store
func NewJSONItems(config Config) (*JSONItems, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("path is required for json storage")
	}

	cacheTTL := config.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = defaultJSONCacheTTL
	}

	j := &JSONItems{
		filePath: config.Path,
		cacheTTL: cacheTTL,
	}

	if err := j.ensureFileExists(); err != nil {
		return nil, fmt.Errorf("failed to ensure file exists: %w", err)
	}
	if err := j.loadData(); err != nil {
		return nil, fmt.Errorf("failed to load initial data: %w", err)
	}
	return j, nil
}

// ensureFileExists creates the JSON file with empty data if it doesn't exist
func (j *JSONItems) ensureFileExists() error {
	if _, err := os.Stat(j.filePath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(j.filePath), 0700); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		return j.saveData(&JSONData{Items: []models.Item{}})
	}
	return nil
}

// loadData loads data from the JSON file with caching.
// It uses double-checked locking: a fast read-lock path for cache hits,
// and a write-lock slow path with re-validation.
func (j *JSONItems) loadData() error {
	j.mu.RLock()
	if j.data != nil && time.Now().Before(j.cacheExpiry) {
		j.mu.RUnlock()
		return nil
	}
	j.mu.RUnlock()

	j.mu.Lock()
	defer j.mu.Unlock()

	// Another goroutine may have loaded while we waited for the write lock.
	if j.data != nil && time.Now().Before(j.cacheExpiry) {
		return nil
	}

	info, err := os.Stat(j.filePath)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	if j.data != nil && !info.ModTime().After(j.lastModified) {
		j.cacheExpiry = time.Now().Add(j.cacheTTL)
		return nil
	}

	fileData, err := os.ReadFile(j.filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var data JSONData
	if err := json.Unmarshal(fileData, &data); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	for i := range data.Items {
		data.Items[i].Normalize()
	}

	j.data = &data
	j.lastModified = info.ModTime()
	j.cacheExpiry = time.Now().Add(j.cacheTTL)
	return nil
}

// saveData writes data to the JSON file. Callers hold the write lock.
func (j *JSONItems) saveData(data *JSONData) error {
	data.LastUpdated = time.Now().UTC()

	fileData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if err := os.WriteFile(j.filePath, fileData, 0600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	if info, err := os.Stat(j.filePath); err == nil {
		j.lastModified = info.ModTime()
	}
	return nil
}

// Fetch implements pagination.Executor.
func (j *JSONItems) Fetch(ctx context.Context, q pagination.Query) ([]models.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := j.loadData(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	all := make([]models.Item, len(j.data.Items))
	for i, item := range j.data.Items {
		all[i] = copyItem(item)
	}
	j.mu.RUnlock()

	return selectPage(all, q), nil
}

// Get retrieves an item by ID
func (j *JSONItems) Get(ctx context.Context, id int64) (models.Item, error) {
	if err := j.loadData(); err != nil {
		return models.Item{}, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	for _, item := range j.data.Items {
		if item.ID == id {
			return copyItem(item), nil
		}
	}
	return models.Item{}, ErrNotFound
}

// Save stores or updates an item
func (j *JSONItems) Save(ctx context.Context, item *models.Item) error {
	item.Normalize()
	if err := item.Validate(); err != nil {
		return fmt.Errorf("invalid item: %w", err)
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if err := j.loadData(); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if item.ID == 0 {
		var maxID int64
		for _, existing := range j.data.Items {
			maxID = max(maxID, existing.ID)
		}
		item.ID = maxID + 1
	}

	for i, existing := range j.data.Items {
		if existing.ID == item.ID {
			j.data.Items[i] = copyItem(*item)
			return j.saveData(j.data)
		}
	}

	j.data.Items = append(j.data.Items, copyItem(*item))
	return j.saveData(j.data)
}

// Count returns the number of stored items
func (j *JSONItems) Count(ctx context.Context) (int, error) {
	if err := j.loadData(); err != nil {
		return 0, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.data.Items), nil
}

// Ping verifies the backing file is still readable.
func (j *JSONItems) Ping(_ context.Context) error {
	if _, err := os.Stat(j.filePath); err != nil {
		return fmt.Errorf("json storage unavailable: %w", err)
	}
	return nil
}

// Close clears the cache
func (j *JSONItems) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.data = nil
	j.cacheExpiry = time.Time{}
	return nil
}
