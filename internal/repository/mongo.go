package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/bigkaiyoh/TGF-Scholar/internal/domain"
)

// Collection and index names used by the MongoDB store.
const (
	usersCollection         = "users"
	organizationsCollection = "organizations"
	submissionsCollection   = "submissions"
	keysCollection          = "signing_keys"

	IndexUsersOrgCode            = "org_code"
	IndexSubmissionsUserTime     = "user_id_submit_time"
	IndexSubmissionsOrgTime      = "org_code_submit_time"
	IndexSigningKeysActiveRecent = "active_created_at"
)

var (
	_ UserRepository         = (*MongoUserRepo)(nil)
	_ OrganizationRepository = (*MongoOrganizationRepo)(nil)
	_ SubmissionRepository   = (*MongoSubmissionRepo)(nil)
	_ KeyRepository          = (*MongoKeyRepo)(nil)
	_ Migrator               = (*MongoIndexes)(nil)
)

// mongoBadValue is returned by the server when a query hint names an index
// that does not exist.
const mongoBadValue = 2

func mapMongoError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrDuplicateID, err)
	}
	var se mongo.ServerError
	if errors.As(err, &se) && se.HasErrorCode(mongoBadValue) && se.HasErrorMessage("hint") {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrMissingIndex, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// NewMongoStore bundles the MongoDB repositories of one database.
func NewMongoStore(db *mongo.Database) Store {
	return Store{
		Users:         NewMongoUserRepo(db),
		Organizations: NewMongoOrganizationRepo(db),
		Submissions:   NewMongoSubmissionRepo(db),
		Keys:          NewMongoKeyRepo(db),
		Schema:        NewMongoIndexes(db),
	}
}

type userDoc struct {
	ID              string     `bson:"_id"`
	Email           string     `bson:"email"`
	PasswordHash    string     `bson:"password_hash"`
	University      string     `bson:"university"`
	Faculty         string     `bson:"faculty"`
	Department      string     `bson:"department,omitempty"`
	OrgCode         string     `bson:"org_code"`
	RegisteredAt    time.Time  `bson:"registered_at"`
	Timezone        string     `bson:"timezone"`
	Status          string     `bson:"status"`
	PasswordResetAt *time.Time `bson:"password_reset_at,omitempty"`
}

func toUserDoc(u domain.User) userDoc {
	return userDoc{
		ID:              u.ID,
		Email:           u.Email,
		PasswordHash:    u.PasswordHash,
		University:      u.Affiliation.University,
		Faculty:         u.Affiliation.Faculty,
		Department:      u.Affiliation.Department,
		OrgCode:         u.OrgCode,
		RegisteredAt:    u.RegisteredAt.UTC(),
		Timezone:        u.Timezone,
		Status:          string(u.Status),
		PasswordResetAt: u.PasswordResetAt,
	}
}

func (d userDoc) toDomain() domain.User {
	u := domain.User{
		ID:           d.ID,
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		Affiliation: domain.Affiliation{
			University: d.University,
			Faculty:    d.Faculty,
			Department: d.Department,
		},
		OrgCode:      d.OrgCode,
		RegisteredAt: d.RegisteredAt.UTC(),
		Timezone:     d.Timezone,
		Status:       domain.Status(d.Status),
	}
	if d.PasswordResetAt != nil {
		t := d.PasswordResetAt.UTC()
		u.PasswordResetAt = &t
	}
	return u
}

// MongoUserRepo implements UserRepository.
type MongoUserRepo struct {
	users *mongo.Collection
}

func NewMongoUserRepo(db *mongo.Database) *MongoUserRepo {
	return &MongoUserRepo{users: db.Collection(usersCollection)}
}

func (r *MongoUserRepo) Get(ctx context.Context, id string) (domain.User, error) {
	var doc userDoc
	if err := r.users.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return domain.User{}, mapMongoError("get user", err)
	}
	return doc.toDomain(), nil
}

func (r *MongoUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	doc := toUserDoc(user)
	if _, err := r.users.InsertOne(ctx, doc); err != nil {
		return domain.User{}, mapMongoError("create user", err)
	}
	return doc.toDomain(), nil
}

func (r *MongoUserRepo) update(ctx context.Context, op, id string, set bson.M) error {
	res, err := r.users.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return mapMongoError(op, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return nil
}

func (r *MongoUserRepo) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	return r.update(ctx, "update user status", id, bson.M{"status": string(status)})
}

func (r *MongoUserRepo) UpdateStatuses(ctx context.Context, updates []StatusUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(updates))
	for _, up := range updates {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": up.UserID}).
			SetUpdate(bson.M{"$set": bson.M{"status": string(up.Status)}}))
	}
	if _, err := r.users.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
		return mapMongoError("update user statuses", err)
	}
	return nil
}

func (r *MongoUserRepo) ListByOrg(ctx context.Context, orgCode string) ([]domain.User, error) {
	opts := options.Find().SetSort(bson.D{{Key: "registered_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := r.users.Find(ctx, bson.M{"org_code": orgCode}, opts)
	if err != nil {
		return nil, mapMongoError("list users", err)
	}
	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, mapMongoError("list users", err)
	}
	users := make([]domain.User, 0, len(docs))
	for _, d := range docs {
		users = append(users, d.toDomain())
	}
	return users, nil
}

func (r *MongoUserRepo) UpdatePassword(ctx context.Context, id, passwordHash string, at time.Time) error {
	return r.update(ctx, "update user password", id, bson.M{
		"password_hash":     passwordHash,
		"password_reset_at": at.UTC(),
	})
}

func (r *MongoUserRepo) UpdateTimezone(ctx context.Context, id, timezone string) error {
	return r.update(ctx, "update user timezone", id, bson.M{"timezone": timezone})
}

type facultyDoc struct {
	Name        string   `bson:"name"`
	Departments []string `bson:"departments,omitempty"`
}

type universityDoc struct {
	Name      string       `bson:"name"`
	Faculties []facultyDoc `bson:"faculties,omitempty"`
}

type organizationDoc struct {
	Code          string          `bson:"_id"`
	Name          string          `bson:"org_name"`
	PasswordHash  string          `bson:"password_hash"`
	Timezone      string          `bson:"timezone"`
	FullDashboard bool            `bson:"full_dashboard"`
	Universities  []universityDoc `bson:"universities,omitempty"`
	CreatedAt     time.Time       `bson:"created_at"`
}

func toOrganizationDoc(o domain.Organization) organizationDoc {
	doc := organizationDoc{
		Code:          o.Code,
		Name:          o.Name,
		PasswordHash:  o.PasswordHash,
		Timezone:      o.Timezone,
		FullDashboard: o.FullDashboard,
		CreatedAt:     o.CreatedAt.UTC(),
	}
	for _, u := range o.Universities {
		ud := universityDoc{Name: u.Name}
		for _, f := range u.Faculties {
			ud.Faculties = append(ud.Faculties, facultyDoc{Name: f.Name, Departments: f.Departments})
		}
		doc.Universities = append(doc.Universities, ud)
	}
	return doc
}

func (d organizationDoc) toDomain() domain.Organization {
	o := domain.Organization{
		Code:          d.Code,
		Name:          d.Name,
		PasswordHash:  d.PasswordHash,
		Timezone:      d.Timezone,
		FullDashboard: d.FullDashboard,
		CreatedAt:     d.CreatedAt.UTC(),
	}
	for _, ud := range d.Universities {
		u := domain.University{Name: ud.Name}
		for _, fd := range ud.Faculties {
			u.Faculties = append(u.Faculties, domain.Faculty{Name: fd.Name, Departments: fd.Departments})
		}
		o.Universities = append(o.Universities, u)
	}
	return o
}

// MongoOrganizationRepo implements OrganizationRepository.
type MongoOrganizationRepo struct {
	orgs *mongo.Collection
}

func NewMongoOrganizationRepo(db *mongo.Database) *MongoOrganizationRepo {
	return &MongoOrganizationRepo{orgs: db.Collection(organizationsCollection)}
}

func (r *MongoOrganizationRepo) Get(ctx context.Context, code string) (domain.Organization, error) {
	var doc organizationDoc
	if err := r.orgs.FindOne(ctx, bson.M{"_id": code}).Decode(&doc); err != nil {
		return domain.Organization{}, mapMongoError("get organization", err)
	}
	return doc.toDomain(), nil
}

func (r *MongoOrganizationRepo) Create(ctx context.Context, org domain.Organization) (domain.Organization, error) {
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}
	doc := toOrganizationDoc(org)
	if _, err := r.orgs.InsertOne(ctx, doc); err != nil {
		return domain.Organization{}, mapMongoError("create organization", err)
	}
	return doc.toDomain(), nil
}

type submissionDoc struct {
	ID         int64     `bson:"_id"`
	UserID     string    `bson:"user_id"`
	Text       string    `bson:"text"`
	Feedback   string    `bson:"feedback"`
	SubmitTime time.Time `bson:"submit_time"`
	University string    `bson:"university"`
	Faculty    string    `bson:"faculty"`
	Department string    `bson:"department,omitempty"`
	OrgCode    string    `bson:"org_code"`
	Timezone   string    `bson:"timezone"`
	ScanKey    string    `bson:"scan_key,omitempty"`
}

func toSubmissionDoc(s domain.Submission) submissionDoc {
	return submissionDoc{
		ID:         s.ID,
		UserID:     s.UserID,
		Text:       s.Text,
		Feedback:   s.Feedback,
		SubmitTime: s.SubmitTime.UTC(),
		University: s.Affiliation.University,
		Faculty:    s.Affiliation.Faculty,
		Department: s.Affiliation.Department,
		OrgCode:    s.OrgCode,
		Timezone:   s.Timezone,
		ScanKey:    s.ScanKey,
	}
}

func (d submissionDoc) toDomain() domain.Submission {
	return domain.Submission{
		ID:         d.ID,
		UserID:     d.UserID,
		Text:       d.Text,
		Feedback:   d.Feedback,
		SubmitTime: d.SubmitTime.UTC(),
		Affiliation: domain.Affiliation{
			University: d.University,
			Faculty:    d.Faculty,
			Department: d.Department,
		},
		OrgCode:  d.OrgCode,
		Timezone: d.Timezone,
		ScanKey:  d.ScanKey,
	}
}

// MongoSubmissionRepo implements SubmissionRepository.
type MongoSubmissionRepo struct {
	subs *mongo.Collection
}

func NewMongoSubmissionRepo(db *mongo.Database) *MongoSubmissionRepo {
	return &MongoSubmissionRepo{subs: db.Collection(submissionsCollection)}
}

func (r *MongoSubmissionRepo) Append(ctx context.Context, sub domain.Submission) (domain.Submission, error) {
	doc := toSubmissionDoc(sub)
	if _, err := r.subs.InsertOne(ctx, doc); err != nil {
		return domain.Submission{}, mapMongoError("append submission", err)
	}
	return doc.toDomain(), nil
}

func (r *MongoSubmissionRepo) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Submission, error) {
	if limit <= 0 {
		limit = 50
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "submit_time", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	return r.find(ctx, "list user submissions", bson.M{"user_id": userID}, opts)
}

// ListByOrgBetween hints the org/submit-time index so a store missing it
// fails instead of scanning the whole collection.
func (r *MongoSubmissionRepo) ListByOrgBetween(ctx context.Context, orgCode string, from, to time.Time) ([]domain.Submission, error) {
	filter := bson.M{
		"org_code":    orgCode,
		"submit_time": bson.M{"$gte": from.UTC(), "$lt": to.UTC()},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "submit_time", Value: 1}}).
		SetHint(IndexSubmissionsOrgTime)
	return r.find(ctx, "list org submissions", filter, opts)
}

// CountByOrg groups the organization's submissions by user on the
// org/submit-time index.
func (r *MongoSubmissionRepo) CountByOrg(ctx context.Context, orgCode string) (map[string]int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"org_code": orgCode}}},
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$user_id"}, {Key: "count", Value: bson.M{"$sum": 1}}}}},
	}
	cur, err := r.subs.Aggregate(ctx, pipeline, options.Aggregate().SetHint(IndexSubmissionsOrgTime))
	if err != nil {
		return nil, mapMongoError("count org submissions", err)
	}
	var rows []struct {
		UserID string `bson:"_id"`
		Count  int    `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, mapMongoError("count org submissions", err)
	}
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.UserID] = row.Count
	}
	return counts, nil
}

func (r *MongoSubmissionRepo) find(ctx context.Context, op string, filter bson.M, opts *options.FindOptionsBuilder) ([]domain.Submission, error) {
	cur, err := r.subs.Find(ctx, filter, opts)
	if err != nil {
		return nil, mapMongoError(op, err)
	}
	var docs []submissionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, mapMongoError(op, err)
	}
	subs := make([]domain.Submission, 0, len(docs))
	for _, d := range docs {
		subs = append(subs, d.toDomain())
	}
	return subs, nil
}

type signingKeyDoc struct {
	KID       string    `bson:"_id"`
	Secret    []byte    `bson:"secret"`
	Algorithm string    `bson:"algorithm"`
	Active    bool      `bson:"is_active"`
	CreatedAt time.Time `bson:"created_at"`
}

// MongoKeyRepo implements KeyRepository.
type MongoKeyRepo struct {
	keys *mongo.Collection
}

func NewMongoKeyRepo(db *mongo.Database) *MongoKeyRepo {
	return &MongoKeyRepo{keys: db.Collection(keysCollection)}
}

func (r *MongoKeyRepo) GetActiveKey(ctx context.Context) (domain.SigningKey, error) {
	var doc signingKeyDoc
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if err := r.keys.FindOne(ctx, bson.M{"is_active": true}, opts).Decode(&doc); err != nil {
		return domain.SigningKey{}, mapMongoError("get active key", err)
	}
	return domain.SigningKey{
		KID:       doc.KID,
		Secret:    doc.Secret,
		Algorithm: doc.Algorithm,
		Active:    doc.Active,
		CreatedAt: doc.CreatedAt.UTC(),
	}, nil
}

func (r *MongoKeyRepo) CreateKey(ctx context.Context, key domain.SigningKey) (domain.SigningKey, error) {
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	doc := signingKeyDoc{
		KID:       key.KID,
		Secret:    key.Secret,
		Algorithm: key.Algorithm,
		Active:    key.Active,
		CreatedAt: key.CreatedAt.UTC(),
	}
	if _, err := r.keys.InsertOne(ctx, doc); err != nil {
		return domain.SigningKey{}, mapMongoError("create key", err)
	}
	return key, nil
}

// MongoIndexes creates the named indexes the MongoDB repositories rely on.
type MongoIndexes struct {
	db *mongo.Database
}

func NewMongoIndexes(db *mongo.Database) *MongoIndexes {
	return &MongoIndexes{db: db}
}

func (m *MongoIndexes) Migrate(ctx context.Context) error {
	if _, err := m.db.Collection(usersCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "org_code", Value: 1}}, Options: options.Index().SetName(IndexUsersOrgCode)},
	}); err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}

	if _, err := m.db.Collection(submissionsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "submit_time", Value: -1}}, Options: options.Index().SetName(IndexSubmissionsUserTime)},
		{Keys: bson.D{{Key: "org_code", Value: 1}, {Key: "submit_time", Value: 1}}, Options: options.Index().SetName(IndexSubmissionsOrgTime)},
	}); err != nil {
		return fmt.Errorf("create submission indexes: %w", err)
	}

	if _, err := m.db.Collection(keysCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "is_active", Value: 1}, {Key: "created_at", Value: -1}}, Options: options.Index().SetName(IndexSigningKeysActiveRecent)},
	}); err != nil {
		return fmt.Errorf("create signing key indexes: %w", err)
	}
	return nil
}
