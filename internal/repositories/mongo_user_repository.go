package repositories

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"message-service/internal/models"
)

type userDoc struct {
	ID    primitive.ObjectID `bson:"_id"`
	Email string             `bson:"email"`
	IsBot bool               `bson:"isBot"`
}

type MongoUserRepo struct {
	col     *mongo.Collection
	timeout time.Duration
}

func NewMongoUserRepo(db *mongo.Database, timeout time.Duration) *MongoUserRepo {
	return &MongoUserRepo{col: db.Collection("users"), timeout: timeout}
}

func (r *MongoUserRepo) GetUsers(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return []models.User{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	oids, err := objectIDs(ids)
	if err != nil {
		return nil, err
	}
	opts := options.Find().SetProjection(bson.M{"email": 1, "isBot": 1})
	cur, err := r.col.Find(ctx, bson.M{"_id": bson.M{"$in": oids}}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	users := make([]models.User, 0, len(docs))
	for _, d := range docs {
		users = append(users, models.User{ID: d.ID.Hex(), Email: d.Email, IsBot: d.IsBot})
	}
	return users, nil
}
