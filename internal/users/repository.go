package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/expensetracker/expensetracker/backend/identity-service/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoUserRepository implements Store and LoginKeyIndex using MongoDB
type MongoUserRepository struct {
	col *mongo.Collection
}

// NewMongoUserRepository creates a new repository for the given collection
func NewMongoUserRepository(col *mongo.Collection) *MongoUserRepository {
	return &MongoUserRepository{col: col}
}

// EnsureIndexes creates the uniqueness constraints the directory relies on:
// one user per email and one owner per (provider, providerKey).
func (r *MongoUserRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "normalizedEmail", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_normalized_email"),
		},
		{
			Keys: bson.D{{Key: "logins.provider", Value: 1}, {Key: "logins.providerKey", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_login").
				SetPartialFilterExpression(bson.M{"logins.providerKey": bson.M{"$exists": true}}),
		},
		{
			Keys:    bson.D{{Key: "logins.normalizedKey", Value: 1}},
			Options: options.Index().SetName("login_key"),
		},
	})
	if err != nil {
		return fmt.Errorf("users: ensure indexes: %w", err)
	}
	return nil
}

func (r *MongoUserRepository) findOne(ctx context.Context, filter interface{}) (*models.User, error) {
	var u models.User
	if err := r.col.FindOne(ctx, filter).Decode(&u); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (r *MongoUserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoUserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	n := NormalizeEmail(email)
	if n == "" {
		return nil, nil
	}
	return r.findOne(ctx, bson.M{"normalizedEmail": n})
}

func (r *MongoUserRepository) FindByLogin(ctx context.Context, provider, providerKey string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"logins": bson.M{"$elemMatch": bson.M{"provider": provider, "providerKey": providerKey}}})
}

func (r *MongoUserRepository) FindByProviderKey(ctx context.Context, providerKey string) (*models.User, error) {
	k := NormalizeKey(providerKey)
	if k == "" {
		return nil, nil
	}
	return r.findOne(ctx, bson.M{"logins.normalizedKey": k})
}

func (r *MongoUserRepository) List(ctx context.Context) ([]*models.User, error) {
	cur, err := r.col.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []*models.User
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MongoUserRepository) Create(ctx context.Context, u *models.User) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	u.NormalizedEmail = NormalizeEmail(u.Email)
	if u.Roles == nil {
		u.Roles = []string{}
	}
	if u.Logins == nil {
		u.Logins = []models.ExternalLogin{}
	}
	if _, err := r.col.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return newStoreError("create", "Email", CodeDuplicateEmail, fmt.Sprintf("Email '%s' is already taken.", u.Email))
		}
		return err
	}
	return nil
}

// Update writes profile fields. Roles and logins have their own operations.
func (r *MongoUserRepository) Update(ctx context.Context, u *models.User) error {
	u.UpdatedAt = time.Now().UTC()
	u.NormalizedEmail = NormalizeEmail(u.Email)
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": u.ID}, bson.M{"$set": bson.M{
		"email":           u.Email,
		"normalizedEmail": u.NormalizedEmail,
		"userName":        u.UserName,
		"firstName":       u.FirstName,
		"lastName":        u.LastName,
		"emailConfirmed":  u.EmailConfirmed,
		"updatedAt":       u.UpdatedAt,
	}})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return newStoreError("update", "Email", CodeDuplicateEmail, fmt.Sprintf("Email '%s' is already taken.", u.Email))
		}
		return err
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *MongoUserRepository) AddToRole(ctx context.Context, userID, role string) error {
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{"$addToSet": bson.M{"roles": role}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *MongoUserRepository) GetLogins(ctx context.Context, userID string) ([]models.ExternalLogin, error) {
	var doc struct {
		Logins []models.ExternalLogin `bson:"logins"`
	}
	opts := options.FindOne().SetProjection(bson.M{"logins": 1})
	if err := r.col.FindOne(ctx, bson.M{"_id": userID}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return doc.Logins, nil
}

func (r *MongoUserRepository) AddLogin(ctx context.Context, userID string, login models.ExternalLogin) error {
	login.NormalizedKey = NormalizeKey(login.ProviderKey)
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{
		"$push": bson.M{"logins": login},
		"$set":  bson.M{"updatedAt": time.Now().UTC()},
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return newStoreError("add_login", "Login", CodeLoginAlreadyAssociated, "A user with this login already exists.")
		}
		return err
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}
