package repositories

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func objectID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return oid, nil
}

func objectIDs(ids []string) ([]primitive.ObjectID, error) {
	oids := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		oid, err := objectID(id)
		if err != nil {
			return nil, err
		}
		oids = append(oids, oid)
	}
	return oids, nil
}

func hexIDs(oids []primitive.ObjectID) []string {
	ids := make([]string, 0, len(oids))
	for _, oid := range oids {
		ids = append(ids, oid.Hex())
	}
	return ids
}

var (
	_ MessageRepository      = (*MessageRepo)(nil)
	_ MessageRepository      = (*MongoMessageRepo)(nil)
	_ ConversationRepository = (*ConversationRepo)(nil)
	_ ConversationRepository = (*MongoConversationRepo)(nil)
	_ UserRepository         = (*UserRepo)(nil)
	_ UserRepository         = (*MongoUserRepo)(nil)
)
