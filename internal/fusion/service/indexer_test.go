package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	evidence "complyd/internal/evidence/models"
	"complyd/internal/fusion/models"
	"complyd/internal/fusion/ports/mocks"
	id "complyd/pkg/domain"
)

func TestIndexer(t *testing.T) {
	extracted := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	items := []*evidence.Item{
		{ID: "ev-1", SourceURL: "https://ci.example.com/a", ExtractedText: "scan clean", ExtractedAt: extracted},
		{ID: "ev-2", SourceURL: "https://ci.example.com/b"},
	}

	t.Run("files each item under every policy", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		index := mocks.NewMockPassageIndex(ctrl)
		embedder := mocks.NewMockEmbedder(ctrl)
		embedder.EXPECT().Embed(gomock.Any(), "scan clean").Return([]float32{0.1, 0.2}, nil)

		var got []models.Record
		index.EXPECT().Upsert(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, r []models.Record) error {
			got = r
			return nil
		})

		err := NewIndexer(index, embedder, nil).Index(context.Background(), []id.PolicyID{"POL-201", "POL-202"}, items)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, id.PolicyID("POL-201"), got[0].PolicyID)
		assert.Equal(t, id.PolicyID("POL-202"), got[1].PolicyID)
		assert.Equal(t, "https://ci.example.com/a", got[0].SourceID)
		assert.Equal(t, extracted, got[0].ExtractedAt)
	})

	t.Run("embedding failure stops indexing", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		index := mocks.NewMockPassageIndex(ctrl)
		embedder := mocks.NewMockEmbedder(ctrl)
		embedder.EXPECT().Embed(gomock.Any(), gomock.Any()).Return(nil, errors.New("503"))

		err := NewIndexer(index, embedder, nil).Index(context.Background(), []id.PolicyID{"POL-201"}, items)
		assert.Error(t, err)
	})

	t.Run("no policies is a no-op", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		err := NewIndexer(mocks.NewMockPassageIndex(ctrl), mocks.NewMockEmbedder(ctrl), nil).
			Index(context.Background(), nil, items)
		assert.NoError(t, err)
	})
}
