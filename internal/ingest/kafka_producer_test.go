package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-tracking/internal/models"
)

type captureWriter struct {
	msgs     []kafka.Message
	deadline bool
	err      error
}

func (c *captureWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	_, c.deadline = ctx.Deadline()
	c.msgs = append(c.msgs, msgs...)
	return c.err
}

func (c *captureWriter) Close() error { return nil }

func TestPublishPositionKeysByRide(t *testing.T) {
	w := &captureWriter{}
	p := NewKafkaProducerWithWriter(w)
	u := models.PositionUpdate{RideID: "r1", Coord: models.Coord{Lat: -23.5, Lon: -46.6}, Status: models.StatusActive, At: time.Unix(0, 0).UTC()}

	require.NoError(t, p.PublishPosition(context.Background(), u))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte("r1"), w.msgs[0].Key)
	assert.True(t, w.deadline)

	got, err := DecodePosition(w.msgs[0])
	require.NoError(t, err)
	assert.Equal(t, u.RideID, got.RideID)
	assert.Equal(t, u.Coord, got.Coord)
	assert.True(t, u.At.Equal(got.At))
}

func TestPublishPositionWrapsWriterError(t *testing.T) {
	w := &captureWriter{err: assert.AnError}
	err := NewKafkaProducerWithWriter(w).PublishPosition(context.Background(), models.PositionUpdate{RideID: "r1"})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestDecodePositionFallsBackToKey(t *testing.T) {
	got, err := DecodePosition(kafka.Message{Key: []byte("r7"), Value: []byte(`{"coord":{"lat":1,"lon":2}}`)})
	require.NoError(t, err)
	assert.Equal(t, "r7", got.RideID)

	_, err = DecodePosition(kafka.Message{Value: []byte(`not json`)})
	assert.Error(t, err)
}
