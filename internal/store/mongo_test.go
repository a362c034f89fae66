package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func TestNewMongoUserRepositoryCollection(t *testing.T) {
	// Connect does not dial; no server is needed to resolve collection handles.
	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI("mongodb://localhost:27017"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })
	db := client.Database("quiz")

	assert.Equal(t, "data", NewMongoUserRepository(db, "").coll.Name())
	assert.Equal(t, "players", NewMongoUserRepository(db, "players").coll.Name())
}

func TestUserDocumentToUser(t *testing.T) {
	doc := userDocument{Name: "Ann", Email: "a@x.com", PasswordHash: "hash", Rating: 7}
	user := doc.toUser()

	assert.Equal(t, "Ann", user.Name)
	assert.Equal(t, "hash", user.PasswordHash)
	assert.Equal(t, 7, user.Rating)
}
