package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeRecord(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	return rec
}

func TestCtxFallsBackToSlogDefault(t *testing.T) {
	assert.Same(t, slog.Default(), Ctx(context.Background()))
}

func TestWithRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := With(context.Background(), logger)
	require.Same(t, logger, Ctx(ctx))

	Ctx(ctx).Info("model reconciled", slog.Int("accounts", 2))
	rec := decodeRecord(t, &buf)
	assert.Equal(t, "model reconciled", rec["msg"])
	assert.EqualValues(t, 2, rec["accounts"])
}

func TestWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	ctx := With(context.Background(), slog.New(slog.NewJSONHandler(&buf, nil)))
	ctx = WithAttrs(ctx, slog.String("phone", "+79990000000"))

	Ctx(ctx).Info("authenticated")
	rec := decodeRecord(t, &buf)
	assert.Equal(t, "+79990000000", rec["phone"])
}
