package conversation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinic-booking-assistant/internal/session"
	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

type mockDynamo struct {
	putInput     *dynamodb.PutItemInput
	putErr       error
	updateInputs []*dynamodb.UpdateItemInput
	updateErr    error
	getOutput    *dynamodb.GetItemOutput
	getErr       error
}

func (m *mockDynamo) PutItem(_ context.Context, input *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.putInput = input
	return &dynamodb.PutItemOutput{}, m.putErr
}

func (m *mockDynamo) UpdateItem(_ context.Context, input *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	m.updateInputs = append(m.updateInputs, input)
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (m *mockDynamo) GetItem(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if m.getOutput == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	return m.getOutput, nil
}

func TestJobStore_PutPending(t *testing.T) {
	mock := &mockDynamo{}
	store := NewJobStore(mock, "conversation_jobs", logging.Default())

	if err := store.PutPending(context.Background(), &JobRecord{JobID: "job-123", Channel: "whatsapp"}); err != nil {
		t.Fatalf("PutPending returned error: %v", err)
	}
	if mock.putInput == nil {
		t.Fatalf("expected PutItem to be called")
	}

	var stored JobRecord
	if err := attributevalue.UnmarshalMap(mock.putInput.Item, &stored); err != nil {
		t.Fatalf("failed to unmarshal stored job: %v", err)
	}
	if stored.Status != JobStatusPending {
		t.Fatalf("expected status pending, got %s", stored.Status)
	}
	if stored.ExpiresAt <= time.Now().Unix() {
		t.Fatal("expected TTL to be in the future")
	}
	if expr := mock.putInput.ConditionExpression; expr == nil || *expr != "attribute_not_exists(jobId)" {
		t.Fatalf("expected condition expression to prevent overwrites, got %v", expr)
	}
}

func TestJobStore_PutPendingNilJob(t *testing.T) {
	store := NewJobStore(&mockDynamo{}, "conversation_jobs", logging.Default())
	if err := store.PutPending(context.Background(), nil); err == nil {
		t.Fatal("expected error when job is nil")
	}
}

func TestJobStore_MarkCompletedAliasesReservedNames(t *testing.T) {
	mock := &mockDynamo{}
	store := NewJobStore(mock, "conversation_jobs", logging.Default())

	reply := &Reply{Step: session.StepMainMenu}
	reply.text(session.LanguageEnglish, "How can I help you today?")
	if err := store.MarkCompleted(context.Background(), "job-123", reply); err != nil {
		t.Fatalf("MarkCompleted returned error: %v", err)
	}
	if len(mock.updateInputs) != 1 {
		t.Fatalf("expected 1 update call, got %d", len(mock.updateInputs))
	}

	update := mock.updateInputs[0]
	names := update.ExpressionAttributeNames
	if names["#reply"] != "reply" || names["#error"] != "errorMessage" || names["#status"] != "status" {
		t.Fatalf("expected reserved attribute names to be aliased, got %v", names)
	}
	status := update.ExpressionAttributeValues[":status"].(*types.AttributeValueMemberS).Value
	if status != string(JobStatusCompleted) {
		t.Fatalf("expected completed status, got %s", status)
	}
	if _, ok := update.ExpressionAttributeValues[":reply"].(*types.AttributeValueMemberM); !ok {
		t.Fatalf("expected marshalled reply attribute, got %T", update.ExpressionAttributeValues[":reply"])
	}
}

func TestJobStore_MarkFailedSetsNullReply(t *testing.T) {
	mock := &mockDynamo{}
	store := NewJobStore(mock, "conversation_jobs", logging.Default())

	if err := store.MarkFailed(context.Background(), "job-123", "boom"); err != nil {
		t.Fatalf("MarkFailed returned error: %v", err)
	}
	update := mock.updateInputs[0]
	if _, ok := update.ExpressionAttributeValues[":reply"].(*types.AttributeValueMemberNULL); !ok {
		t.Fatalf("expected reply to be set to NULL, got %T", update.ExpressionAttributeValues[":reply"])
	}
	if msg := update.ExpressionAttributeValues[":error"].(*types.AttributeValueMemberS).Value; msg != "boom" {
		t.Fatalf("expected error message boom, got %q", msg)
	}
}

func TestJobStore_UpdatePropagatesError(t *testing.T) {
	store := NewJobStore(&mockDynamo{updateErr: errors.New("dynamo failed")}, "conversation_jobs", logging.Default())

	err := store.MarkCompleted(context.Background(), "job-1", nil)
	if err == nil || !strings.Contains(err.Error(), "dynamo failed") {
		t.Fatalf("expected dynamo error, got %v", err)
	}
}

func TestJobStore_GetJob(t *testing.T) {
	mock := &mockDynamo{getOutput: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"jobId":  &types.AttributeValueMemberS{Value: "job-42"},
		"status": &types.AttributeValueMemberS{Value: string(JobStatusFailed)},
	}}}
	store := NewJobStore(mock, "conversation_jobs", logging.Default())

	job, err := store.GetJob(context.Background(), "job-42")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if job.JobID != "job-42" || job.Status != JobStatusFailed {
		t.Fatalf("unexpected job %#v", job)
	}

	mock.getOutput = nil
	if _, err := store.GetJob(context.Background(), "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestJobHandler(t *testing.T) {
	jobs := NewMemoryJobStore()
	_ = jobs.PutPending(context.Background(), &JobRecord{JobID: "job-7", Channel: "whatsapp"})

	r := chi.NewRouter()
	r.Get("/admin/jobs/{jobID}", NewJobHandler(jobs, nil).GetJob)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/jobs/job-7", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"pending"`) {
		t.Fatalf("expected pending job, got %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/jobs/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
