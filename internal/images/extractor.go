package images

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/mattes337/logsink/internal/models"
	"github.com/mattes337/logsink/internal/observability"
)

// Sentinel replacement values for images that could not be stored.
const (
	SentinelTooLarge   = "[Image too large]"
	SentinelBadType    = "[Image type not allowed]"
	SentinelSaveFailed = "[Image save failed]"
)

var dataURIPattern = regexp.MustCompile(`^data:image/([a-zA-Z0-9+.-]+);base64,(.+)$`)

// Extractor rewrites inline data-URI images inside admission contexts to
// stored filenames, enforcing size and type limits.
type Extractor struct {
	store        *Store
	maxSize      int64
	allowedTypes map[string]struct{}
	logger       observability.Logger
}

// NewExtractor creates an Extractor over the given store.
func NewExtractor(store *Store, maxSize int64, allowedTypes []string, logger observability.Logger) *Extractor {
	if logger == nil {
		logger = observability.NewLogger("images.extractor")
	}
	allowed := make(map[string]struct{}, len(allowedTypes))
	for _, t := range allowedTypes {
		allowed[strings.ToLower(t)] = struct{}{}
	}
	return &Extractor{store: store, maxSize: maxSize, allowedTypes: allowed, logger: logger}
}

// Extract walks the context tree, replacing each admissible inline image
// with its stored filename `<app>-img-<issue>-<N>.<ext>` and rejected images
// with a sentinel string. It returns the rewritten context together with the
// filenames actually written.
func (e *Extractor) Extract(applicationID string, issueID uuid.UUID, context models.JSONMap) (models.JSONMap, []string) {
	if context == nil {
		return nil, nil
	}
	w := &walker{extractor: e, applicationID: applicationID, issueID: issueID}
	rewritten := w.walkMap(map[string]any(context))
	return models.JSONMap(rewritten), w.saved
}

type walker struct {
	extractor     *Extractor
	applicationID string
	issueID       uuid.UUID
	counter       int
	saved         []string
}

func (w *walker) walkValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return w.walkMap(val)
	case models.JSONMap:
		return w.walkMap(map[string]any(val))
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = w.walkValue(item)
		}
		return out
	case string:
		return w.walkString(val)
	default:
		return v
	}
}

func (w *walker) walkMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = w.walkValue(v)
	}
	return out
}

func (w *walker) walkString(s string) string {
	match := dataURIPattern.FindStringSubmatch(s)
	if match == nil {
		return s
	}
	ext := strings.ToLower(match[1])
	e := w.extractor
	if _, ok := e.allowedTypes[ext]; !ok {
		return SentinelBadType
	}

	payload := match[2]
	// Cheap pre-check on the encoded size before decoding.
	if int64(len(payload))*3/4 > e.maxSize {
		return SentinelTooLarge
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		e.logger.Warn("Failed to decode inline image", map[string]any{
			"application_id": w.applicationID,
			"error":          err.Error(),
		})
		return SentinelSaveFailed
	}
	if int64(len(data)) > e.maxSize {
		return SentinelTooLarge
	}

	w.counter++
	name := fmt.Sprintf("%s-img-%s-%d.%s", w.applicationID, w.issueID, w.counter, ext)
	if err := e.store.Save(name, data); err != nil {
		e.logger.Error("Failed to persist inline image", map[string]any{
			"file":  name,
			"error": err.Error(),
		})
		return SentinelSaveFailed
	}
	w.saved = append(w.saved, name)
	return name
}
