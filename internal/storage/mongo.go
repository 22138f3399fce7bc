package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rowjay/secret-vault/internal/vaulterr"
)

// maxMongoObject keeps a document under the 16 MiB BSON limit.
const maxMongoObject = 15 << 20

// Mongo keeps one document per object in a single collection.
type Mongo struct {
	client *mongo.Client
	coll   *mongo.Collection
}

type mongoObject struct {
	Key      string            `bson:"_id"`
	Data     []byte            `bson:"data,omitempty"`
	Size     int64             `bson:"size"`
	Metadata map[string]string `bson:"metadata,omitempty"`
	Modified time.Time         `bson:"modified"`
}

func NewMongo(ctx context.Context, uri, database, collection string) (*Mongo, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is empty")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return &Mongo{client: client, coll: client.Database(database).Collection(collection)}, nil
}

func (m *Mongo) Name() string { return "mongo" }

func (m *Mongo) Put(ctx context.Context, key string, reader io.Reader, _ int64, metadata map[string]string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	data, err := io.ReadAll(io.LimitReader(reader, maxMongoObject+1))
	if err != nil {
		return unavailable("put", key, err)
	}
	if len(data) > maxMongoObject {
		return vaulterr.Invalid("object %s exceeds %d bytes", key, maxMongoObject)
	}
	doc := mongoObject{Key: key, Data: data, Size: int64(len(data)), Metadata: metadata, Modified: time.Now().UTC()}
	_, err = m.coll.ReplaceOne(ctx, bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return unavailable("put", key, err)
	}
	return nil
}

func (m *Mongo) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	var doc mongoObject
	if err := m.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, notFound(key)
		}
		return nil, unavailable("get", key, err)
	}
	return io.NopCloser(bytes.NewReader(doc.Data)), nil
}

func (m *Mongo) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	var doc mongoObject
	opts := options.FindOne().SetProjection(bson.M{"data": 0})
	if err := m.coll.FindOne(ctx, bson.M{"_id": key}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ObjectInfo{}, notFound(key)
		}
		return ObjectInfo{}, unavailable("stat", key, err)
	}
	return ObjectInfo{Key: doc.Key, Size: doc.Size, Modified: doc.Modified, Metadata: doc.Metadata}, nil
}

func (m *Mongo) List(ctx context.Context, prefix, delimiter string) ([]ObjectInfo, error) {
	filter := bson.M{"_id": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}}
	opts := options.Find().SetProjection(bson.M{"data": 0}).SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := m.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, unavailable("list", prefix, err)
	}
	var docs []mongoObject
	if err := cur.All(ctx, &docs); err != nil {
		return nil, unavailable("list", prefix, err)
	}
	infos := make([]ObjectInfo, 0, len(docs))
	for _, doc := range docs {
		infos = append(infos, ObjectInfo{Key: doc.Key, Size: doc.Size, Modified: doc.Modified, Metadata: doc.Metadata})
	}
	return collapse(infos, prefix, delimiter), nil
}

func (m *Mongo) Delete(ctx context.Context, key string) error {
	if _, err := m.coll.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return unavailable("delete", key, err)
	}
	return nil
}

func (m *Mongo) Exists(ctx context.Context, key string) (bool, error) {
	n, err := m.coll.CountDocuments(ctx, bson.M{"_id": key}, options.Count().SetLimit(1))
	if err != nil {
		return false, unavailable("stat", key, err)
	}
	return n > 0, nil
}

// Close disconnects the client.
func (m *Mongo) Close(ctx context.Context) error {
	if err := m.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("mongo disconnect: %w", err)
	}
	return nil
}
