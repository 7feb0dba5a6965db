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

type seenDoc struct {
	User   primitive.ObjectID `bson:"user"`
	SeenAt time.Time          `bson:"seenAt"`
}

type messageDoc struct {
	ID             primitive.ObjectID   `bson:"_id"`
	ConversationID primitive.ObjectID   `bson:"conversationId"`
	SenderID       primitive.ObjectID   `bson:"senderId"`
	Text           string               `bson:"text"`
	ImageURL       string               `bson:"imageUrl,omitempty"`
	SeenBy         []seenDoc            `bson:"seenBy"`
	DeletedFrom    []primitive.ObjectID `bson:"deletedFrom"`
	CreatedAt      time.Time            `bson:"createdAt"`
	UpdatedAt      time.Time            `bson:"updatedAt"`
}

func (d messageDoc) toModel() models.Message {
	seen := make([]models.SeenMarker, 0, len(d.SeenBy))
	for _, s := range d.SeenBy {
		seen = append(seen, models.SeenMarker{User: s.User.Hex(), SeenAt: s.SeenAt})
	}
	return models.Message{
		ID:             d.ID.Hex(),
		ConversationID: d.ConversationID.Hex(),
		SenderID:       d.SenderID.Hex(),
		Text:           d.Text,
		ImageURL:       d.ImageURL,
		SeenBy:         seen,
		DeletedFrom:    hexIDs(d.DeletedFrom),
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

// MongoMessageRepo stores messages in the "messages" collection.
type MongoMessageRepo struct {
	col     *mongo.Collection
	timeout time.Duration
}

// NewMongoMessageRepo constructs MongoMessageRepo.
func NewMongoMessageRepo(db *mongo.Database, timeout time.Duration) *MongoMessageRepo {
	return &MongoMessageRepo{col: db.Collection("messages"), timeout: timeout}
}

func (r *MongoMessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	convID, err := objectID(msg.ConversationID)
	if err != nil {
		return models.Message{}, err
	}
	senderID, err := objectID(msg.SenderID)
	if err != nil {
		return models.Message{}, err
	}
	deleted, err := objectIDs(msg.DeletedFrom)
	if err != nil {
		return models.Message{}, err
	}
	seen := make([]seenDoc, 0, len(msg.SeenBy))
	for _, s := range msg.SeenBy {
		user, err := objectID(s.User)
		if err != nil {
			return models.Message{}, err
		}
		seen = append(seen, seenDoc{User: user, SeenAt: s.SeenAt})
	}

	now := msg.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	doc := messageDoc{
		ID:             primitive.NewObjectID(),
		ConversationID: convID,
		SenderID:       senderID,
		Text:           msg.Text,
		ImageURL:       msg.ImageURL,
		SeenBy:         seen,
		DeletedFrom:    deleted,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		return models.Message{}, err
	}
	return doc.toModel(), nil
}

func (r *MongoMessageRepo) ListVisible(ctx context.Context, conversationID, viewerID string) ([]models.Message, error) {
	convID, err := objectID(conversationID)
	if err != nil {
		return nil, err
	}
	viewer, err := objectID(viewerID)
	if err != nil {
		return nil, err
	}
	filter := bson.M{"conversationId": convID, "deletedFrom": bson.M{"$ne": viewer}}
	return r.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
}

func (r *MongoMessageRepo) ListRecent(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	convID, err := objectID(conversationID)
	if err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}).SetLimit(int64(limit))
	return r.find(ctx, bson.M{"conversationId": convID}, opts)
}

func (r *MongoMessageRepo) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	msgs := make([]models.Message, 0, len(docs))
	for _, d := range docs {
		msgs = append(msgs, d.toModel())
	}
	return msgs, nil
}

func (r *MongoMessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	oid, err := objectID(messageID)
	if err != nil {
		return models.Message{}, ErrMessageNotFound
	}
	var doc messageDoc
	err = r.col.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	return doc.toModel(), nil
}

// MarkSeen pushes a marker only on documents where userID is absent from seenBy.
func (r *MongoMessageRepo) MarkSeen(ctx context.Context, messageIDs []string, userID string, at time.Time) error {
	if len(messageIDs) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	oids, err := objectIDs(messageIDs)
	if err != nil {
		return err
	}
	user, err := objectID(userID)
	if err != nil {
		return err
	}
	filter := bson.M{"_id": bson.M{"$in": oids}, "seenBy.user": bson.M{"$ne": user}}
	update := bson.M{"$push": bson.M{"seenBy": seenDoc{User: user, SeenAt: at}}}
	_, err = r.col.UpdateMany(ctx, filter, update)
	return err
}

func (r *MongoMessageRepo) AddDeletedFrom(ctx context.Context, messageID string, userIDs []string) (models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	oid, err := objectID(messageID)
	if err != nil {
		return models.Message{}, ErrMessageNotFound
	}
	users, err := objectIDs(userIDs)
	if err != nil {
		return models.Message{}, err
	}
	update := bson.M{
		"$addToSet": bson.M{"deletedFrom": bson.M{"$each": users}},
		"$set":      bson.M{"updatedAt": time.Now().UTC()},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc messageDoc
	err = r.col.FindOneAndUpdate(ctx, bson.M{"_id": oid}, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	return doc.toModel(), nil
}
