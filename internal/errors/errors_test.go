package errors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_CarriesComponentCategoryAndContext(t *testing.T) {
	err := Newf("probe failed: %w", context.DeadlineExceeded).
		Component("monitor").
		Category(CategoryNetwork).
		Context("url", "http://example.invalid/health").
		Build()

	assert.Equal(t, "probe failed: context deadline exceeded", err.Error())
	assert.Equal(t, "monitor", err.GetComponent())
	assert.Equal(t, CategoryNetwork, err.GetCategory())
	assert.Equal(t, "http://example.invalid/health", err.GetContext()["url"])
	assert.True(t, Is(err, context.DeadlineExceeded), "wrapped error must stay reachable")
}

func TestIsCategory_WalksWrappedChain(t *testing.T) {
	inner := New(NewStd("disk full")).Category(CategoryStorage).Build()
	outer := Newf("persist queue: %w", inner).Category(CategoryGeneric).Build()

	assert.True(t, IsCategory(outer, CategoryStorage))
	assert.True(t, IsCategory(outer, CategoryGeneric))
	assert.False(t, IsCategory(outer, CategoryNetwork))
	assert.False(t, IsCategory(NewStd("plain"), CategoryGeneric))
}

func TestSetReporter_ReceivesBuiltErrors(t *testing.T) {
	var got []*EnhancedError
	SetReporter(func(ee *EnhancedError) { got = append(got, ee) })
	t.Cleanup(func() { SetReporter(nil) })

	built := Newf("invalid coordinates").Category(CategoryValidation).Build()

	require.Len(t, got, 1)
	assert.Same(t, built, got[0])
}

func TestNew_NilErrorStillBuilds(t *testing.T) {
	t.Parallel()

	err := New(nil).Build()
	require.Error(t, err)
	assert.Equal(t, CategoryGeneric, err.GetCategory())
}
