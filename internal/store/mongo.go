package store

import (
	"context"
	"errors"
	"time"

	"github.com/brainquiz/apiserver/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DefaultUsersCollection is the collection the existing quiz database keeps
// user documents in.
const DefaultUsersCollection = "data"

// userDocument is the BSON shape of a user document.
type userDocument struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	Name         string             `bson:"name"`
	Email        string             `bson:"email"`
	PasswordHash string             `bson:"password"`
	Country      string             `bson:"country"`
	Questions    int                `bson:"questions"`
	Streak       int                `bson:"streak"`
	Rating       int                `bson:"rating"`
	CreatedAt    time.Time          `bson:"createdAt"`
	UpdatedAt    time.Time          `bson:"updatedAt"`
}

func (d userDocument) toUser() types.User {
	return types.User{
		ID:           d.ID.Hex(),
		Name:         d.Name,
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		Country:      d.Country,
		Questions:    d.Questions,
		Streak:       d.Streak,
		Rating:       d.Rating,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

// MongoUserRepository handles persistence for users in MongoDB.
type MongoUserRepository struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewMongoUserRepository stores users in the named collection of db, or in
// DefaultUsersCollection when collection is empty.
func NewMongoUserRepository(db *mongo.Database, collection string) *MongoUserRepository {
	if collection == "" {
		collection = DefaultUsersCollection
	}
	return &MongoUserRepository{coll: db.Collection(collection), now: time.Now}
}

// EnsureIndexes creates the unique email index.
func (r *MongoUserRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("email_unique"),
	})
	return err
}

func (r *MongoUserRepository) GetByID(ctx context.Context, id string) (types.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return types.User{}, ErrNotFound
	}
	return r.findOne(ctx, bson.M{"_id": oid})
}

func (r *MongoUserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *MongoUserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := r.now().UTC()
	doc := userDocument{
		ID:           primitive.NewObjectID(),
		Name:         user.Name,
		Email:        user.Email,
		PasswordHash: user.PasswordHash,
		Country:      user.Country,
		Questions:    user.Questions,
		Streak:       user.Streak,
		Rating:       user.Rating,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return types.User{}, ErrDuplicateEmail
		}
		return types.User{}, err
	}
	return doc.toUser(), nil
}

// Leaders returns every user ordered by rating, highest first. Equal ratings
// keep signup order.
func (r *MongoUserRepository) Leaders(ctx context.Context) ([]types.Leader, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "rating", Value: -1}, {Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}).
		SetProjection(bson.M{"name": 1, "rating": 1, "country": 1})

	cursor, err := r.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	leaders := make([]types.Leader, 0)
	for cursor.Next(ctx) {
		var doc userDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		leaders = append(leaders, types.Leader{
			Name:    doc.Name,
			Score:   doc.Rating,
			Country: doc.Country,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return leaders, nil
}

// ApplyProgress adds the progress deltas to the user's counters, clamping
// each counter at zero. The update runs as a single pipeline so it is atomic
// per document.
func (r *MongoUserRepository) ApplyProgress(ctx context.Context, progress types.Progress) (types.User, error) {
	oid, err := primitive.ObjectIDFromHex(progress.UserID)
	if err != nil {
		return types.User{}, ErrNotFound
	}

	set := bson.D{
		{Key: "questions", Value: clampedAdd("$questions", progress.Questions)},
		{Key: "rating", Value: clampedAdd("$rating", progress.Rating)},
		{Key: "updatedAt", Value: r.now().UTC()},
	}
	if progress.Streak != nil {
		set = append(set, bson.E{Key: "streak", Value: max(*progress.Streak, 0)})
	}
	pipeline := mongo.Pipeline{{{Key: "$set", Value: set}}}

	var doc userDocument
	err = r.coll.FindOneAndUpdate(
		ctx,
		bson.M{"_id": oid},
		pipeline,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return doc.toUser(), nil
}

func (r *MongoUserRepository) findOne(ctx context.Context, filter bson.M) (types.User, error) {
	var doc userDocument
	if err := r.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return doc.toUser(), nil
}

func clampedAdd(field string, delta int) bson.D {
	return bson.D{{Key: "$max", Value: bson.A{0, bson.D{{Key: "$add", Value: bson.A{field, delta}}}}}}
}
