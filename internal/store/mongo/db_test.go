package mongo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/mongo"

	"dmserver/internal/domain"
)

func TestStoreErr(t *testing.T) {
	t.Run("NilPassesThrough", func(t *testing.T) {
		assert.NoError(t, storeErr(nil))
	})

	t.Run("DeadlineIsUnavailable", func(t *testing.T) {
		err := storeErr(context.DeadlineExceeded)
		assert.ErrorIs(t, err, domain.ErrUnavailable)
	})

	t.Run("DisconnectedClientIsUnavailable", func(t *testing.T) {
		err := storeErr(mongo.ErrClientDisconnected)
		assert.ErrorIs(t, err, domain.ErrUnavailable)
	})

	t.Run("OtherErrorsPassThrough", func(t *testing.T) {
		cause := errors.New("document validation failed")
		err := storeErr(cause)
		assert.Equal(t, cause, err)
		assert.NotErrorIs(t, err, domain.ErrUnavailable)
	})
}
