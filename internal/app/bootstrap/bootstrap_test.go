package bootstrap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking-assistant/internal/booking"
	appconfig "github.com/wolfman30/clinic-booking-assistant/internal/config"
	"github.com/wolfman30/clinic-booking-assistant/internal/conversation"
	"github.com/wolfman30/clinic-booking-assistant/internal/notify"
	"github.com/wolfman30/clinic-booking-assistant/internal/session"
	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

var testAWS = aws.Config{Region: "ap-south-1"}

func TestBuildClassifierRequiresConfig(t *testing.T) {
	if _, err := BuildClassifier(context.Background(), nil, testAWS, nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
}

func TestBuildClassifierDefaultsToKeywords(t *testing.T) {
	classifier, err := BuildClassifier(context.Background(), &appconfig.Config{Classifier: "keyword"}, testAWS, logging.New("error"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := classifier.(*conversation.KeywordClassifier); !ok {
		t.Fatalf("expected KeywordClassifier, got %T", classifier)
	}
}

func TestBuildClassifierLLMWithoutModelFallsBack(t *testing.T) {
	cfg := &appconfig.Config{Classifier: "llm", LLMProvider: "bedrock"}

	classifier, err := BuildClassifier(context.Background(), cfg, testAWS, logging.New("error"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := classifier.(*conversation.KeywordClassifier); !ok {
		t.Fatalf("expected KeywordClassifier when bedrock model is unset, got %T", classifier)
	}
}

func TestBuildClassifierBedrock(t *testing.T) {
	cfg := &appconfig.Config{Classifier: "llm", LLMProvider: "bedrock", BedrockModelID: "anthropic.claude-3-haiku"}

	classifier, err := BuildClassifier(context.Background(), cfg, testAWS, logging.New("error"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := classifier.(*conversation.LLMClassifier); !ok {
		t.Fatalf("expected LLMClassifier, got %T", classifier)
	}
}

func TestBuildClassifierUnknownProvider(t *testing.T) {
	cfg := &appconfig.Config{Classifier: "llm", LLMProvider: "nope"}
	if _, err := BuildClassifier(context.Background(), cfg, testAWS, logging.New("error")); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}

func TestBuildTurnQueueMemory(t *testing.T) {
	queue, jobs := BuildTurnQueue(&appconfig.Config{UseMemoryQueue: true}, testAWS, logging.New("error"))
	if !UsesMemoryQueue(queue) {
		t.Fatalf("expected memory queue, got %T", queue)
	}
	if _, ok := jobs.(*conversation.MemoryJobStore); !ok {
		t.Fatalf("expected MemoryJobStore, got %T", jobs)
	}
}

func TestBuildTurnQueueWithoutURLUsesMemory(t *testing.T) {
	queue, _ := BuildTurnQueue(&appconfig.Config{}, testAWS, logging.New("error"))
	if !UsesMemoryQueue(queue) {
		t.Fatalf("expected memory queue when no queue url is set")
	}
}

func TestBuildTurnQueueSQS(t *testing.T) {
	cfg := &appconfig.Config{
		ConversationQueueURL:  "http://localhost:4566/000000000000/turns",
		ConversationJobsTable: "jobs",
	}
	queue, jobs := BuildTurnQueue(cfg, testAWS, logging.New("error"))
	if _, ok := queue.(*conversation.SQSQueue); !ok {
		t.Fatalf("expected SQSQueue, got %T", queue)
	}
	if _, ok := jobs.(*conversation.JobStore); !ok {
		t.Fatalf("expected dynamo JobStore, got %T", jobs)
	}
}

func TestBuildEmailSender(t *testing.T) {
	logger := logging.New("error")

	if _, ok := BuildEmailSender(&appconfig.Config{EmailProvider: "sendgrid"}, testAWS, logger).(*notify.LogEmailSender); !ok {
		t.Fatalf("expected stub sender without api key")
	}
	sg := BuildEmailSender(&appconfig.Config{EmailProvider: "sendgrid", SendGridAPIKey: "SG.key"}, testAWS, logger)
	if _, ok := sg.(*notify.SendGridSender); !ok {
		t.Fatalf("expected SendGridSender, got %T", sg)
	}
	ses := BuildEmailSender(&appconfig.Config{EmailProvider: "ses", SESFromEmail: "noreply@clinic.in"}, testAWS, logger)
	if _, ok := ses.(*notify.SESSender); !ok {
		t.Fatalf("expected SESSender, got %T", ses)
	}
}

func TestBuildMessengersWithoutCredentials(t *testing.T) {
	m := BuildMessengers(&appconfig.Config{}, nil, logging.New("error"))
	if m.WhatsApp != nil || m.SMS != nil {
		t.Fatalf("expected disabled channels, got %+v", m)
	}
	if m.Patient == nil {
		t.Fatalf("expected patient notifier")
	}
	appt := &booking.Appointment{ID: uuid.New(), PatientPhone: "919812345678", Date: "2030-01-02", Time: "10:00"}
	if _, err := m.Patient.SendReminder(context.Background(), appt); !errors.Is(err, notify.ErrNoChannel) {
		t.Fatalf("expected ErrNoChannel, got %v", err)
	}
}

func TestBuildMessengersWithCredentials(t *testing.T) {
	cfg := &appconfig.Config{
		WhatsAppAccessToken:   "token",
		WhatsAppPhoneNumberID: "1234",
		TwilioAccountSID:      "AC1",
		TwilioAuthToken:       "secret",
		TwilioFromNumber:      "+918000000000",
	}
	m := BuildMessengers(cfg, nil, logging.New("error"))
	if m.WhatsApp == nil || m.SMS == nil {
		t.Fatalf("expected both channels, got %+v", m)
	}
}

func TestBuildRedisClient(t *testing.T) {
	if client := BuildRedisClient(context.Background(), &appconfig.Config{}, nil, true); client != nil {
		t.Fatalf("expected nil client without address")
	}

	mr := miniredis.RunT(t)
	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, logging.New("error"), true)
	if client == nil {
		t.Fatalf("expected client for reachable redis")
	}
	_ = client.Close()
}

func TestBuildSessionStore(t *testing.T) {
	logger := logging.New("error")
	cfg := &appconfig.Config{SessionBackend: "redis", SessionIdleTimeout: time.Minute}

	if _, ok := BuildSessionStore(cfg, nil, logger).(*session.MemoryStore); !ok {
		t.Fatalf("expected memory store without redis")
	}

	mr := miniredis.RunT(t)
	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, logger, false)
	defer client.Close()
	if _, ok := BuildSessionStore(cfg, client, logger).(*session.RedisStore); !ok {
		t.Fatalf("expected redis store")
	}
}

func TestConnectPostgresPoolEmptyURLReturnsNil(t *testing.T) {
	if pool := ConnectPostgresPool(context.Background(), "", logging.New("error")); pool != nil {
		t.Fatalf("expected nil pool for empty URL")
	}
	if db := OpenSQLDB("", nil); db != nil {
		t.Fatalf("expected nil db for empty URL")
	}
}

func TestBuildCoreRequiresDatabase(t *testing.T) {
	_, err := BuildCore(context.Background(), &appconfig.Config{}, testAWS, logging.New("error"))
	if !errors.Is(err, ErrDatabaseRequired) {
		t.Fatalf("expected ErrDatabaseRequired, got %v", err)
	}
}
