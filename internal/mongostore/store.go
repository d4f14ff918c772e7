// Package mongostore is a plan store backed by MongoDB.
//
// Plans and results are kept as canonical JSON strings inside small BSON
// envelopes; the envelope carries the fields that are queried or updated
// in place (status, last execution time, plan id).
package mongostore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/roach88/icm/internal/canonical"
	"github.com/roach88/icm/internal/commission"
	"github.com/roach88/icm/internal/plan"
)

const (
	plansCollection   = "plans"
	resultsCollection = "execution_results"
)

// ErrResultNotFound is returned when no result has the requested execution
// id.
var ErrResultNotFound = errors.New("execution result not found")

// Store implements the engine's plan store over a MongoDB database.
type Store struct {
	plans   *mongo.Collection
	results *mongo.Collection
	now     func() time.Time
	logger  *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithNow sets the time source for updatedAt fields.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// New wraps an existing database handle.
func New(db *mongo.Database, opts ...Option) *Store {
	s := &Store{
		plans:   db.Collection(plansCollection),
		results: db.Collection(resultsCollection),
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect dials uri, verifies the connection and returns a Store on
// database. The returned function disconnects the client.
func Connect(ctx context.Context, uri, database string, opts ...Option) (*Store, func(context.Context) error, error) {
	if uri == "" || database == "" {
		return nil, nil, errors.New("mongostore: uri and database are required")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("mongostore: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("mongostore: ping: %w", err)
	}
	s := New(client.Database(database), opts...)
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, err
	}
	return s, client.Disconnect, nil
}

// EnsureIndexes creates the indexes the store queries by.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.results.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "planId", Value: 1}, {Key: "createdAt", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("mongostore: create results index: %w", err)
	}
	return nil
}

type planDoc struct {
	ID             string     `bson:"_id"`
	Name           string     `bson:"name"`
	Status         string     `bson:"status"`
	LastExecutedAt *time.Time `bson:"lastExecutedAt,omitempty"`
	Document       string     `bson:"document"`
	UpdatedAt      time.Time  `bson:"updatedAt"`
}

type resultDoc struct {
	ID              string    `bson:"_id"`
	PlanID          string    `bson:"planId"`
	Mode            string    `bson:"mode"`
	Status          string    `bson:"status"`
	Currency        string    `bson:"currency"`
	TotalCommission string    `bson:"totalCommission"`
	Digest          string    `bson:"digest"`
	Document        string    `bson:"document"`
	CreatedAt       time.Time `bson:"createdAt"`
}

func toPlanDoc(p plan.IncentivePlan, now time.Time) (planDoc, error) {
	p = plan.Normalize(p)
	doc, err := canonical.Marshal(p)
	if err != nil {
		return planDoc{}, err
	}
	var last *time.Time
	if p.LastExecutedAt != nil {
		t := p.LastExecutedAt.UTC()
		last = &t
	}
	return planDoc{
		ID:             p.ID,
		Name:           p.Name,
		Status:         string(p.Status),
		LastExecutedAt: last,
		Document:       string(doc),
		UpdatedAt:      now.UTC(),
	}, nil
}

func fromPlanDoc(d planDoc) (plan.IncentivePlan, error) {
	var p plan.IncentivePlan
	if err := json.Unmarshal([]byte(d.Document), &p); err != nil {
		return plan.IncentivePlan{}, fmt.Errorf("decode plan %s: %w", d.ID, err)
	}
	p.Status = plan.Status(d.Status)
	p.LastExecutedAt = d.LastExecutedAt
	return plan.Normalize(p), nil
}

// SavePlan inserts or replaces a plan.
func (s *Store) SavePlan(ctx context.Context, p plan.IncentivePlan) error {
	if p.ID == "" {
		return errors.New("save plan: id is required")
	}
	doc, err := toPlanDoc(p, s.now())
	if err != nil {
		return fmt.Errorf("save plan %s: %w", p.ID, err)
	}
	_, err = s.plans.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save plan %s: %w", p.ID, err)
	}
	return nil
}

// GetPlan reads a plan. A missing plan yields plan.ErrNotFound.
func (s *Store) GetPlan(ctx context.Context, planID string) (plan.IncentivePlan, error) {
	var doc planDoc
	err := s.plans.FindOne(ctx, bson.M{"_id": planID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return plan.IncentivePlan{}, fmt.Errorf("%w: %s", plan.ErrNotFound, planID)
	}
	if err != nil {
		return plan.IncentivePlan{}, fmt.Errorf("get plan %s: %w", planID, err)
	}
	return fromPlanDoc(doc)
}

// MarkPlanExecuted sets the plan status to executed and records at.
func (s *Store) MarkPlanExecuted(ctx context.Context, planID string, at time.Time) error {
	res, err := s.plans.UpdateOne(ctx, bson.M{"_id": planID}, bson.M{"$set": bson.M{
		"status":         string(plan.StatusExecuted),
		"lastExecutedAt": at.UTC(),
		"updatedAt":      s.now().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("mark plan %s executed: %w", planID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("mark plan executed: %w: %s", plan.ErrNotFound, planID)
	}
	return nil
}

// SaveExecutionResult inserts a result keyed by execution id. A second
// write for the same id is ignored.
func (s *Store) SaveExecutionResult(ctx context.Context, res commission.Result) error {
	doc, err := canonical.Marshal(res)
	if err != nil {
		return fmt.Errorf("save execution result %s: %w", res.ExecutionID, err)
	}
	_, err = s.results.InsertOne(ctx, resultDoc{
		ID:              res.ExecutionID,
		PlanID:          res.PlanID,
		Mode:            string(res.Mode),
		Status:          string(res.Status),
		Currency:        res.Currency,
		TotalCommission: res.TotalCommission.String(),
		Digest:          res.Digest,
		Document:        string(doc),
		CreatedAt:       res.Timestamp.UTC(),
	})
	if mongo.IsDuplicateKeyError(err) {
		s.logger.Warn("execution result already stored", zap.String("execution_id", res.ExecutionID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("save execution result %s: %w", res.ExecutionID, err)
	}
	return nil
}

// ExecutionResult reads one stored result.
func (s *Store) ExecutionResult(ctx context.Context, executionID string) (commission.Result, error) {
	var doc resultDoc
	err := s.results.FindOne(ctx, bson.M{"_id": executionID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return commission.Result{}, fmt.Errorf("%w: %s", ErrResultNotFound, executionID)
	}
	if err != nil {
		return commission.Result{}, fmt.Errorf("read execution result %s: %w", executionID, err)
	}
	var res commission.Result
	if err := json.Unmarshal([]byte(doc.Document), &res); err != nil {
		return commission.Result{}, fmt.Errorf("decode execution result %s: %w", executionID, err)
	}
	return res, nil
}
