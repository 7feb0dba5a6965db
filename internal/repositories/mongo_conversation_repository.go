package repositories

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"message-service/internal/models"
)

type unreadDoc struct {
	UserID primitive.ObjectID `bson:"userId"`
	Count  int                `bson:"count"`
}

type conversationDoc struct {
	ID            primitive.ObjectID   `bson:"_id"`
	Members       []primitive.ObjectID `bson:"members"`
	LatestMessage string               `bson:"latestmessage"`
	UnreadCounts  []unreadDoc          `bson:"unreadCounts"`
	CreatedAt     time.Time            `bson:"createdAt"`
	UpdatedAt     time.Time            `bson:"updatedAt"`
}

// MongoConversationRepo reads and updates the "conversations" collection.
type MongoConversationRepo struct {
	col     *mongo.Collection
	timeout time.Duration
}

func NewMongoConversationRepo(db *mongo.Database, timeout time.Duration) *MongoConversationRepo {
	return &MongoConversationRepo{col: db.Collection("conversations"), timeout: timeout}
}

func (r *MongoConversationRepo) GetConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	oid, err := objectID(conversationID)
	if err != nil {
		return models.Conversation{}, ErrConversationNotFound
	}
	var doc conversationDoc
	err = r.col.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return models.Conversation{}, err
	}

	conv := models.Conversation{
		ID:            doc.ID.Hex(),
		Members:       hexIDs(doc.Members),
		LatestMessage: doc.LatestMessage,
		UnreadCounts:  make([]models.UnreadCount, 0, len(doc.UnreadCounts)),
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
	}
	for _, u := range doc.UnreadCounts {
		conv.UnreadCounts = append(conv.UnreadCounts, models.UnreadCount{UserID: u.UserID.Hex(), Count: u.Count})
	}
	return conv, nil
}

// RecordMessage sets the snapshot first, then bumps the unread counters in one
// ordered bulk write. Missing counter entries (or a missing unreadCounts array)
// are created at zero before the increment.
func (r *MongoConversationRepo) RecordMessage(ctx context.Context, conversationID, latest string, at time.Time, unreadFor []string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	oid, err := objectID(conversationID)
	if err != nil {
		return ErrConversationNotFound
	}
	users, err := objectIDs(unreadFor)
	if err != nil {
		return err
	}

	res, err := r.col.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{"latestmessage": latest, "updatedAt": at}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrConversationNotFound
	}
	if len(users) == 0 {
		return nil
	}

	_, err = r.col.BulkWrite(ctx, unreadWrites(oid, users), options.BulkWrite().SetOrdered(true))
	return err
}

func unreadWrites(oid primitive.ObjectID, users []primitive.ObjectID) []mongo.WriteModel {
	writes := make([]mongo.WriteModel, 0, len(users)+1)
	for _, u := range users {
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": oid, "unreadCounts.userId": bson.M{"$ne": u}}).
			SetUpdate(bson.M{"$push": bson.M{"unreadCounts": unreadDoc{UserID: u}}}))
	}
	writes = append(writes, mongo.NewUpdateOneModel().
		SetFilter(bson.M{"_id": oid}).
		SetUpdate(bson.M{"$inc": bson.M{"unreadCounts.$[u].count": 1}}).
		SetArrayFilters(options.ArrayFilters{
			Filters: []interface{}{bson.M{"u.userId": bson.M{"$in": users}}},
		}))
	return writes
}

func (r *MongoConversationRepo) ResetUnread(ctx context.Context, conversationID, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	oid, err := objectID(conversationID)
	if err != nil {
		return ErrConversationNotFound
	}
	user, err := objectID(userID)
	if err != nil {
		return err
	}
	_, err = r.col.UpdateOne(ctx,
		bson.M{"_id": oid, "unreadCounts.userId": user},
		bson.M{"$set": bson.M{"unreadCounts.$.count": 0}},
	)
	return err
}
