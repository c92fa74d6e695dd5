package images

import (
	"encoding/base64"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattes337/logsink/internal/models"
	"github.com/mattes337/logsink/internal/observability"
)

func newTestExtractor(t *testing.T, maxSize int64) (*Extractor, *Store) {
	t.Helper()
	store := newTestStore(t)
	e := NewExtractor(store, maxSize, []string{"png", "jpeg"}, observability.NewNoopLogger())
	return e, store
}

func dataURI(ext string, data []byte) string {
	return fmt.Sprintf("data:image/%s;base64,%s", ext, base64.StdEncoding.EncodeToString(data))
}

func TestExtractReplacesInlineImages(t *testing.T) {
	e, store := newTestExtractor(t, 1024)
	issueID := uuid.New()

	context := models.JSONMap{
		"screenshot": dataURI("png", []byte("fake-png")),
		"url":        "/checkout",
		"nested": map[string]any{
			"capture": dataURI("jpeg", []byte("fake-jpeg")),
		},
	}

	rewritten, saved := e.Extract("shop", issueID, context)
	require.Len(t, saved, 2)

	for _, name := range saved {
		assert.True(t, strings.HasPrefix(name, "shop-img-"+issueID.String()+"-"), name)
		assert.True(t, store.Exists(name), name)
	}

	assert.Equal(t, "/checkout", rewritten["url"])
	assert.Contains(t, saved, rewritten["screenshot"])
	nested := rewritten["nested"].(map[string]any)
	assert.Contains(t, saved, nested["capture"])
}

func TestExtractCountersAreSequential(t *testing.T) {
	e, _ := newTestExtractor(t, 1024)
	issueID := uuid.New()

	context := models.JSONMap{
		"shots": []any{
			dataURI("png", []byte("one")),
			dataURI("png", []byte("two")),
		},
	}
	_, saved := e.Extract("shop", issueID, context)
	require.Len(t, saved, 2)
	assert.Equal(t, fmt.Sprintf("shop-img-%s-1.png", issueID), saved[0])
	assert.Equal(t, fmt.Sprintf("shop-img-%s-2.png", issueID), saved[1])
}

func TestExtractRejectsOversizedImage(t *testing.T) {
	e, _ := newTestExtractor(t, 8)
	context := models.JSONMap{"screenshot": dataURI("png", []byte("this is larger than eight bytes"))}

	rewritten, saved := e.Extract("shop", uuid.New(), context)
	assert.Empty(t, saved)
	assert.Equal(t, SentinelTooLarge, rewritten["screenshot"])
}

func TestExtractRejectsDisallowedType(t *testing.T) {
	e, _ := newTestExtractor(t, 1024)
	context := models.JSONMap{"screenshot": dataURI("svg+xml", []byte("<svg/>"))}

	rewritten, saved := e.Extract("shop", uuid.New(), context)
	assert.Empty(t, saved)
	assert.Equal(t, SentinelBadType, rewritten["screenshot"])
}

func TestExtractSentinelOnUndecodablePayload(t *testing.T) {
	e, _ := newTestExtractor(t, 1024)
	context := models.JSONMap{"screenshot": "data:image/png;base64,!!!not-base64!!!"}

	rewritten, saved := e.Extract("shop", uuid.New(), context)
	assert.Empty(t, saved)
	assert.Equal(t, SentinelSaveFailed, rewritten["screenshot"])
}

func TestExtractLeavesPlainStringsAlone(t *testing.T) {
	e, _ := newTestExtractor(t, 1024)
	context := models.JSONMap{
		"message": "error at data:image/png without payload",
		"count":   3.0,
	}

	rewritten, saved := e.Extract("shop", uuid.New(), context)
	assert.Empty(t, saved)
	assert.Equal(t, context["message"], rewritten["message"])
	assert.Equal(t, 3.0, rewritten["count"])
}

func TestExtractNilContext(t *testing.T) {
	e, _ := newTestExtractor(t, 1024)
	rewritten, saved := e.Extract("shop", uuid.New(), nil)
	assert.Nil(t, rewritten)
	assert.Nil(t, saved)
}
