package citation_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/matins/pkg/citation"
	"github.com/m-mizutani/matins/pkg/model"
)

type mockSource struct {
	queryFunc func(ctx context.Context, windowDays int) ([]model.Reference, error)
}

func (m *mockSource) QueryRecent(ctx context.Context, windowDays int) ([]model.Reference, error) {
	return m.queryFunc(ctx, windowDays)
}

func TestIsRecentlyUsed(t *testing.T) {
	var gotWindow int
	source := &mockSource{
		queryFunc: func(ctx context.Context, windowDays int) ([]model.Reference, error) {
			gotWindow = windowDays
			return []model.Reference{
				{Text: "Porque Deus amou o mundo", Citation: "João 3:16"},
				{Citation: "Salmos 23:1"},
			}, nil
		},
	}

	v := citation.NewValidator(source)
	ctx := context.Background()

	used, err := v.IsRecentlyUsed(ctx, "joão 3:16", 30)
	gt.NoError(t, err)
	gt.True(t, used)
	gt.Equal(t, gotWindow, 30)

	used, err = v.IsRecentlyUsed(ctx, "Romanos 8:28", 30)
	gt.NoError(t, err)
	gt.False(t, used)

	used, err = v.IsRecentlyUsed(ctx, "Joao 3:16", 30)
	gt.NoError(t, err)
	gt.False(t, used)

	accent := citation.NewValidator(source, citation.WithNormalizer(citation.AccentInsensitive))
	used, err = accent.IsRecentlyUsed(ctx, "Joao 3:16", 30)
	gt.NoError(t, err)
	gt.True(t, used)
}

func TestIsRecentlyUsedSourceError(t *testing.T) {
	source := &mockSource{
		queryFunc: func(ctx context.Context, windowDays int) ([]model.Reference, error) {
			return nil, errors.New("disk on fire")
		},
	}

	_, err := citation.NewValidator(source).IsRecentlyUsed(context.Background(), "João 3:16", 30)
	gt.Error(t, err)
}

func TestContainsEmptyCitation(t *testing.T) {
	v := citation.NewValidator(nil)
	gt.False(t, v.Contains([]model.Reference{{Citation: ""}}, "  "))
}
