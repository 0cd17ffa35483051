package users

import (
	"context"
	"testing"

	"github.com/socialmap/socialmap/backend/go-services/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func strPtr(s string) *string { return &s }

func TestMongoRepository_FindExcludesHashUnlessAsked(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("without hash", func(mt *mtest.T) {
		repo := NewMongoUserRepository(mt.Coll)
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{
			{Key: "_id", Value: "u-1"}, {Key: "name", Value: "Asha"}, {Key: "email", Value: "asha@example.com"},
		}))

		u, err := repo.FindByEmail(context.Background(), "asha@example.com", false)
		require.NoError(mt, err)
		require.NotNil(mt, u)
		assert.Equal(mt, "u-1", u.ID)

		evt := mt.GetStartedEvent()
		require.NotNil(mt, evt)
		v, err := evt.Command.LookupErr("projection", "passwordHash")
		require.NoError(mt, err)
		assert.Equal(mt, int64(0), v.AsInt64())
	})

	mt.Run("with hash", func(mt *mtest.T) {
		repo := NewMongoUserRepository(mt.Coll)
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{
			{Key: "_id", Value: "u-1"}, {Key: "email", Value: "asha@example.com"}, {Key: "passwordHash", Value: "$2a$04$x"},
		}))

		u, err := repo.FindByID(context.Background(), "u-1", true)
		require.NoError(mt, err)
		assert.Equal(mt, "$2a$04$x", u.PasswordHash)

		evt := mt.GetStartedEvent()
		require.NotNil(mt, evt)
		_, err = evt.Command.LookupErr("projection")
		assert.Error(mt, err)
	})

	mt.Run("missing user", func(mt *mtest.T) {
		repo := NewMongoUserRepository(mt.Coll)
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))

		u, err := repo.FindByEmail(context.Background(), "nobody@example.com", false)
		require.NoError(mt, err)
		assert.Nil(mt, u)
	})
}

func TestMongoRepository_DuplicateKeyMapsToDuplicateEmail(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("insert", func(mt *mtest.T) {
		repo := NewMongoUserRepository(mt.Coll)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index: 0, Code: 11000, Message: "E11000 duplicate key error collection: users index: uniq_email",
		}))

		err := repo.Create(context.Background(), &models.User{ID: "u-2", Email: "asha@example.com"})
		require.ErrorIs(mt, err, ErrDuplicateEmail)
	})

	mt.Run("update", func(mt *mtest.T) {
		repo := NewMongoUserRepository(mt.Coll)
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code: 11000, Name: "DuplicateKey", Message: "E11000 duplicate key error collection: users index: uniq_email",
		}))

		_, err := repo.Update(context.Background(), "u-2", Changes{Email: strPtr("asha@example.com")})
		require.ErrorIs(mt, err, ErrDuplicateEmail)
	})
}

func TestMongoRepository_Update(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("returns record without hash", func(mt *mtest.T) {
		repo := NewMongoUserRepository(mt.Coll)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "value", Value: bson.D{
			{Key: "_id", Value: "u-1"}, {Key: "name", Value: "Asha R"}, {Key: "email", Value: "asha@example.com"},
		}}))

		u, err := repo.Update(context.Background(), "u-1", Changes{Name: strPtr("Asha R")})
		require.NoError(mt, err)
		assert.Equal(mt, "Asha R", u.Name)

		evt := mt.GetStartedEvent()
		require.NotNil(mt, evt)
		v, err := evt.Command.LookupErr("fields", "passwordHash")
		require.NoError(mt, err)
		assert.Equal(mt, int64(0), v.AsInt64())
	})

	mt.Run("missing user", func(mt *mtest.T) {
		repo := NewMongoUserRepository(mt.Coll)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "value", Value: nil}))

		_, err := repo.Update(context.Background(), "u-9", Changes{Name: strPtr("X")})
		require.ErrorIs(mt, err, ErrNotFound)
	})

	mt.Run("password on missing user", func(mt *mtest.T) {
		repo := NewMongoUserRepository(mt.Coll)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}))

		err := repo.UpdatePassword(context.Background(), "u-9", "$2a$04$y")
		require.ErrorIs(mt, err, ErrNotFound)
	})
}
