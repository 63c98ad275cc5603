package rootio

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/rootio/internal/envelope"
	"github.com/scigolib/rootio/internal/iobuf"
	"github.com/scigolib/rootio/internal/rntuple"
	"github.com/scigolib/rootio/internal/tkey"
)

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap("ctx", nil))

	cause := errors.New("boom")
	err := Wrap("opening file", cause)
	require.Error(t, err)
	assert.Equal(t, "opening file: boom", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestDecodeErrorRendering(t *testing.T) {
	err := Decode(KindCorrupt, "envelope length").
		At(1409).
		WithLengths(244, 240).
		WithClass("ROOT3a3aRNTuple")
	msg := err.Error()
	assert.Contains(t, msg, "corrupt")
	assert.Contains(t, msg, "envelope length")
	assert.Contains(t, msg, "1409")
	assert.Contains(t, msg, "declared=244")
	assert.Contains(t, msg, "observed=240")
	assert.Contains(t, msg, "ROOT3a3aRNTuple")
}

func TestDecodeErrorOmitsUnsetFields(t *testing.T) {
	msg := Decode(KindTruncated, "short read").Error()
	assert.NotContains(t, msg, "at ")
	assert.NotContains(t, msg, "declared")
	assert.NotContains(t, msg, "class")
}

func TestIsKind(t *testing.T) {
	err := Decode(KindUnknownFeature, "feature flags")
	assert.True(t, IsKind(err, KindUnknownFeature))
	assert.False(t, IsKind(err, KindCorrupt))
	assert.False(t, IsKind(errors.New("plain"), KindCorrupt))

	wrapped := Wrap("outer", err)
	assert.True(t, IsKind(wrapped, KindUnknownFeature))
}

func TestClassifyDecodeErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "truncated", err: iobuf.ErrTruncated, want: KindTruncated},
		{name: "invalid", err: tkey.ErrInvalid, want: KindInvalid},
		{name: "corrupt", err: rntuple.ErrCorrupt, want: KindCorrupt},
		{name: "envelope corrupt", err: envelope.ErrCorrupt, want: KindCorrupt},
		{name: "unknown locator", err: envelope.ErrUnknownLocatorType, want: KindUnknownLocatorType},
		{name: "unknown envelope type", err: envelope.ErrUnknownType, want: KindUnknownEnvelopeType},
		{name: "unknown feature", err: rntuple.ErrUnknownFeature, want: KindUnknownFeature},
		{name: "codec", err: tkey.ErrCodecError, want: KindCodecError},
		{name: "io fallback", err: errors.New("connection reset"), want: KindIoError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyDecodeErr("reading", tt.err)
			assert.True(t, IsKind(err, tt.want), "got %v", err)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	assert.NoError(t, classifyDecodeErr("reading", nil))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "truncated", KindTruncated.String())
	assert.Equal(t, "unknown-locator-type", KindUnknownLocatorType.String())
	assert.Equal(t, "codec-error", KindCodecError.String())
	assert.Equal(t, "unknown", Kind(99).String())
}
