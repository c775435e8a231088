package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestToBSONDoc_RenamesIDToUnderscoreID(t *testing.T) {
	doc := map[string]any{"id": "doc-1", "attributes": map[string]any{"first_name": "Ada"}}

	got := toBSONDoc(doc)

	assert.Equal(t, "doc-1", got["_id"])
	_, hasID := got["id"]
	assert.False(t, hasID)
	assert.Equal(t, map[string]any{"first_name": "Ada"}, got["attributes"])
}

func TestFromBSONDoc_RenamesUnderscoreIDBackToID(t *testing.T) {
	raw := bson.M{"_id": "doc-1", "attributes": map[string]any{"first_name": "Ada"}}

	got := fromBSONDoc(raw)

	assert.Equal(t, "doc-1", got["id"])
	_, hasUnderscoreID := got["_id"]
	assert.False(t, hasUnderscoreID)
}

func TestToBSONDoc_FromBSONDoc_RoundTrip(t *testing.T) {
	doc := map[string]any{"id": "doc-2", "status": "active"}

	roundTripped := fromBSONDoc(toBSONDoc(doc))

	assert.Equal(t, doc, roundTripped)
}
