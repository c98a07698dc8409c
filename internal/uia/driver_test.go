package uia

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/matrixclaw/internal/httpapi"
	"github.com/nextlevelbuilder/matrixclaw/internal/mxerr"
)

func challengeErr(t *testing.T, c ChallengeBody) error {
	t.Helper()
	body, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal challenge: %v", err)
	}
	return mxerr.HTTPStatusWithBody(401, body)
}

func TestTwoStageAuthFlow(t *testing.T) {
	var mu sync.Mutex
	var calls []map[string]any

	doRequest := func(ctx context.Context, authDict map[string]any) (httpapi.Reply, error) {
		mu.Lock()
		calls = append(calls, authDict)
		n := len(calls)
		mu.Unlock()

		switch n {
		case 1:
			return httpapi.Reply{}, challengeErr(t, ChallengeBody{
				Flows:   []Flow{{Stages: []string{"A", "B"}}},
				Session: "s1",
			})
		case 2:
			return httpapi.Reply{}, challengeErr(t, ChallengeBody{
				Flows:     []Flow{{Stages: []string{"A", "B"}}},
				Completed: []string{"A"},
				Session:   "s1",
			})
		default:
			return httpapi.Reply{Code: 200, Data: []byte(`{"ok":true}`)}, nil
		}
	}

	var stagesMu sync.Mutex
	var stages []string
	var d *Driver

	startStage := func(loginType string, stageErr *StageError) {
		stagesMu.Lock()
		stages = append(stages, loginType)
		stagesMu.Unlock()
		switch loginType {
		case "A":
			d.Submit(context.Background(), "A", map[string]any{"x": 1})
		case "B":
			d.Submit(context.Background(), "B", map[string]any{"y": 2})
		}
	}

	d = New(doRequest, startStage, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	reply, err := d.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if string(reply.Data) != `{"ok":true}` {
		t.Fatalf("reply.Data = %s", reply.Data)
	}

	stagesMu.Lock()
	defer stagesMu.Unlock()
	if len(stages) != 2 || stages[0] != "A" || stages[1] != "B" {
		t.Fatalf("stages = %v, want [A B]", stages)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 3 {
		t.Fatalf("expected 3 doRequest calls, got %d", len(calls))
	}
	if calls[0] != nil {
		t.Fatalf("first call should carry no auth dict, got %v", calls[0])
	}
	if calls[1]["type"] != "A" || calls[1]["session"] != "s1" {
		t.Fatalf("second call = %v", calls[1])
	}
	if calls[2]["type"] != "B" || calls[2]["session"] != "s1" {
		t.Fatalf("third call = %v", calls[2])
	}
}

func TestNoIncompleteFlowsFailsImmediately(t *testing.T) {
	doRequest := func(ctx context.Context, authDict map[string]any) (httpapi.Reply, error) {
		return httpapi.Reply{}, challengeErr(t, ChallengeBody{
			Flows:     []Flow{{Stages: []string{"A"}}},
			Completed: []string{"A"},
			Session:   "s1",
		})
	}
	d := New(doRequest, func(string, *StageError) {}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := d.Begin(ctx)
	mxe, ok := mxerr.As(err)
	if !ok || mxe.Kind != mxerr.KindNoIncompleteFlows {
		t.Fatalf("err = %v, want NO_INCOMPLETE_FLOWS", err)
	}
}

func TestNonChallengeErrorTerminatesNegotiation(t *testing.T) {
	boom := mxerr.Network(nil)
	doRequest := func(ctx context.Context, authDict map[string]any) (httpapi.Reply, error) {
		return httpapi.Reply{}, boom
	}
	d := New(doRequest, func(string, *StageError) {}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := d.Begin(ctx)
	if err != boom {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestPanicInDoRequestSurfacesAsError(t *testing.T) {
	doRequest := func(ctx context.Context, authDict map[string]any) (httpapi.Reply, error) {
		panic("boom")
	}
	d := New(doRequest, func(string, *StageError) {}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := d.Begin(ctx)
	if err == nil {
		t.Fatal("expected an error from a panicking doRequest")
	}
}

func TestNewWithInitialChallengeBeginsStageImmediately(t *testing.T) {
	var mu sync.Mutex
	var calls []map[string]any

	doRequest := func(ctx context.Context, authDict map[string]any) (httpapi.Reply, error) {
		mu.Lock()
		calls = append(calls, authDict)
		mu.Unlock()
		return httpapi.Reply{Code: 200, Data: []byte(`{"ok":true}`)}, nil
	}

	var stagesMu sync.Mutex
	var stages []string
	var d *Driver

	startStage := func(loginType string, stageErr *StageError) {
		stagesMu.Lock()
		stages = append(stages, loginType)
		stagesMu.Unlock()
		d.Submit(context.Background(), loginType, map[string]any{"x": 1})
	}

	d = New(doRequest, startStage, &ChallengeBody{
		Flows:   []Flow{{Stages: []string{"A"}}},
		Session: "s1",
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	reply, err := d.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if string(reply.Data) != `{"ok":true}` {
		t.Fatalf("reply.Data = %s", reply.Data)
	}

	stagesMu.Lock()
	if len(stages) != 1 || stages[0] != "A" {
		t.Fatalf("stages = %v, want [A]", stages)
	}
	stagesMu.Unlock()

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 1 {
		t.Fatalf("expected 1 doRequest call, got %d", len(calls))
	}
	if calls[0]["type"] != "A" || calls[0]["session"] != "s1" {
		t.Fatalf("call = %v", calls[0])
	}
}

func TestNewWithInitialChallengeNoIncompleteFlowsRejectsOnBegin(t *testing.T) {
	doRequest := func(ctx context.Context, authDict map[string]any) (httpapi.Reply, error) {
		t.Fatal("doRequest should not be called when no flow has an incomplete stage")
		return httpapi.Reply{}, nil
	}
	d := New(doRequest, func(string, *StageError) {}, &ChallengeBody{
		Flows:     []Flow{{Stages: []string{"A"}}},
		Completed: []string{"A"},
		Session:   "s1",
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := d.Begin(ctx)
	mxe, ok := mxerr.As(err)
	if !ok || mxe.Kind != mxerr.KindNoIncompleteFlows {
		t.Fatalf("err = %v, want NO_INCOMPLETE_FLOWS", err)
	}
}

func TestStageErrorPropagatedToStartStage(t *testing.T) {
	call := 0
	doRequest := func(ctx context.Context, authDict map[string]any) (httpapi.Reply, error) {
		call++
		if call == 1 {
			return httpapi.Reply{}, challengeErr(t, ChallengeBody{
				Flows:   []Flow{{Stages: []string{"A"}}},
				Session: "s1",
			})
		}
		return httpapi.Reply{}, challengeErr(t, ChallengeBody{
			Flows:   []Flow{{Stages: []string{"A"}}},
			Session: "s1",
			Errcode: "M_FORBIDDEN",
			Error:   "wrong password",
		})
	}

	var gotErr *StageError
	var d *Driver
	first := true
	startStage := func(loginType string, stageErr *StageError) {
		if first {
			first = false
			gotErr = stageErr
			d.Submit(context.Background(), "A", map[string]any{"password": "wrong"})
			return
		}
		gotErr = stageErr
	}
	d = New(doRequest, startStage, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go d.Begin(ctx)
	time.Sleep(50 * time.Millisecond)

	if gotErr == nil || gotErr.Errcode != "M_FORBIDDEN" {
		t.Fatalf("gotErr = %+v, want M_FORBIDDEN", gotErr)
	}
}
