package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidKind(t *testing.T) {
	for _, k := range Kinds {
		assert.True(t, ValidKind(k), k)
	}
	assert.False(t, ValidKind("invoice"))
	assert.False(t, ValidKind(""))
}

func TestToDoc(t *testing.T) {
	p := Product{
		ID:           "p-1",
		Name:         "Steel Bolt M8",
		SKU:          "SB-M8",
		Price:        0.12,
		Stock:        4200,
		ReorderLevel: 500,
		CreatedAt:    time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}

	doc, err := ToDoc(p)
	require.NoError(t, err)

	assert.Equal(t, "p-1", doc["id"])
	assert.Equal(t, "Steel Bolt M8", doc["name"])
	assert.Equal(t, 0.12, doc["price"])
	// omitempty drops unset optional fields
	_, hasEmbedding := doc["embedding"]
	assert.False(t, hasEmbedding)
}

func TestMessages_Format(t *testing.T) {
	msgs := Messages{
		{Role: RoleUser, Content: "What is our Q2 revenue?"},
		{Role: RoleAssistant, Content: "Q2 revenue was 1.2M EUR.", Name: "finance"},
	}

	text := msgs.Format()
	assert.Contains(t, text, "user: What is our Q2 revenue?")
	assert.Contains(t, text, "finance: Q2 revenue was 1.2M EUR.")
}
