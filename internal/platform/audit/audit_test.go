package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

type fakeExec struct {
	sql  string
	args []any
	err  error
}

func (f *fakeExec) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.sql = sql
	f.args = args
	return pgconn.NewCommandTag("INSERT 0 1"), f.err
}

func TestRequestMeta_RoundTrip(t *testing.T) {
	ctx := WithRequestMeta(context.Background(), RequestMeta{RequestID: "r1", IPAddress: "10.0.0.1"})
	meta := RequestMetaFrom(ctx)
	if meta.RequestID != "r1" || meta.IPAddress != "10.0.0.1" {
		t.Errorf("unexpected meta %+v", meta)
	}
	if RequestMetaFrom(context.Background()) != (RequestMeta{}) {
		t.Error("expected zero meta from empty context")
	}
}

func TestRecorder_EnrichesFromContext(t *testing.T) {
	rec := &Recorder{}
	ctx := WithRequestMeta(context.Background(), RequestMeta{RequestID: "req-9", UserAgent: "curl"})
	rec.LogDataAccess(ctx, Entry{Actor: "u1", Resource: "consultation", Action: "status_update"})

	got := rec.Find("consultation", "status_update")
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	if got[0].RequestID != "req-9" || got[0].UserAgent != "curl" {
		t.Errorf("expected request metadata, got %+v", got[0])
	}
	if got[0].OccurredAt.IsZero() {
		t.Error("expected timestamp to be filled")
	}
}

func TestLogSink_WritesLine(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(zerolog.New(&buf))
	sink.LogDataAccess(context.Background(), Entry{
		Actor: "doc-1", Resource: "diagnosis", Action: "read",
		Metadata: map[string]any{"from_cache": true},
	})

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("failed to parse log line: %v", err)
	}
	if line["resource"] != "diagnosis" || line["actor"] != "doc-1" {
		t.Errorf("unexpected log line %v", line)
	}
	meta, _ := line["metadata"].(map[string]any)
	if meta["from_cache"] != true {
		t.Errorf("expected from_cache metadata, got %v", line["metadata"])
	}
}

func TestPGSink_Insert(t *testing.T) {
	db := &fakeExec{}
	sink := NewPGSink(db, zerolog.Nop()).Synchronous()

	sink.LogDataAccess(context.Background(), Entry{
		Actor: "u1", Resource: "consultation", Action: "create",
		ResourceID: "c1", After: map[string]string{"status": "DRAFT"},
	})

	if !strings.Contains(db.sql, "INSERT INTO data_access_log") {
		t.Fatalf("unexpected SQL: %s", db.sql)
	}
	if len(db.args) != 12 {
		t.Fatalf("expected 12 args, got %d", len(db.args))
	}
	if db.args[0] != "u1" {
		t.Errorf("expected actor u1, got %v", db.args[0])
	}
	if before, _ := db.args[5].([]byte); before != nil {
		t.Errorf("expected nil before state, got %v", db.args[5])
	}
	if string(db.args[6].([]byte)) != `{"status":"DRAFT"}` {
		t.Errorf("unexpected after state %s", db.args[6])
	}
}

func TestPGSink_FailureIsLoggedNotReturned(t *testing.T) {
	var buf bytes.Buffer
	db := &fakeExec{err: errors.New("relation does not exist")}
	sink := NewPGSink(db, zerolog.New(&buf)).Synchronous()

	sink.LogDataAccess(context.Background(), Entry{Actor: "u1", Resource: "consultation", Action: "create"})

	if !strings.Contains(buf.String(), "failed to record data access") {
		t.Errorf("expected failure to be logged, got %q", buf.String())
	}
}

func TestPGSink_IgnoresCallerCancellation(t *testing.T) {
	db := &fakeExec{}
	sink := NewPGSink(db, zerolog.Nop()).Synchronous()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink.LogDataAccess(ctx, Entry{Actor: "u1", Resource: "session", Action: "delete"})

	if db.sql == "" {
		t.Error("expected insert to run on a detached context")
	}
}

func TestMulti(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	Multi{a, nil, b}.LogDataAccess(context.Background(), Entry{Resource: "x", Action: "y"})
	if len(a.Entries()) != 1 || len(b.Entries()) != 1 {
		t.Error("expected both sinks to receive the entry")
	}
	Nop{}.LogDataAccess(context.Background(), Entry{})
}
