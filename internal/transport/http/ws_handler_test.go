package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"escape-room-service/internal/domain"
	"escape-room-service/internal/game"
	"escape-room-service/internal/session"
	"escape-room-service/internal/store"
	memorystore "escape-room-service/internal/store/memory"
	"escape-room-service/internal/view"
)

func wsCatalog() domain.Catalog {
	return domain.Catalog{
		Levels: map[int][]domain.Question{
			1: {
				{ID: "q1", Title: "One", Body: "find the **key**", Answer: "alpha", Hint: "look closer"},
				{ID: "q2", Title: "Two", Answer: "beta"},
			},
			2: {
				{ID: "q3", Title: "Three", Answer: "gamma"},
			},
		},
		Points: map[int]int{1: 5, 2: 10},
		UnlockRules: map[int]domain.UnlockRule{
			2: {RequireLevel: 1, RequireCount: 2},
		},
	}
}

func newTestConn(t *testing.T) (*websocket.Conn, *memorystore.Store) {
	t.Helper()
	st := memorystore.New()
	if err := st.Set(context.Background(), store.TeamPath("alpha"), domain.Team{Password: "secret"}); err != nil {
		t.Fatalf("seed team: %v", err)
	}

	factory := func(ctx context.Context) (*game.Engine, error) {
		return game.NewEngine(game.Options{
			Store:    st,
			Sessions: session.NewMemStore(),
			Catalog:  wsCatalog(),
			Logger:   zerolog.Nop(),
		}), nil
	}
	handler := NewWSHandler(factory, st, 3, zerolog.Nop())

	srv := httptest.NewServer(http.HandlerFunc(handler.ServeWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn, st
}

type rawMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := conn.WriteJSON(map[string]any{"type": msgType, "payload": json.RawMessage(raw)}); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

// readUntil skips unrelated pushes (board refreshes, timer ticks) until a
// message of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) json.RawMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg rawMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", msgType, err)
		}
		if msg.Type == msgType {
			return msg.Payload
		}
	}
}

func login(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	send(t, conn, "login", map[string]string{"team": "alpha", "password": "secret"})
	readUntil(t, conn, "loginResult")
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	conn, _ := newTestConn(t)

	send(t, conn, "login", map[string]string{"team": "alpha", "password": "nope"})
	var errMsg struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(readUntil(t, conn, "error"), &errMsg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if errMsg.Code != "wrongPassword" {
		t.Fatalf("expected wrongPassword, got %q", errMsg.Code)
	}

	send(t, conn, "login", map[string]string{"team": "ghost", "password": "x"})
	if err := json.Unmarshal(readUntil(t, conn, "error"), &errMsg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if errMsg.Code != "teamNotFound" {
		t.Fatalf("expected teamNotFound, got %q", errMsg.Code)
	}
}

func TestLoginPushesSnapshotAndBoard(t *testing.T) {
	conn, _ := newTestConn(t)

	send(t, conn, "login", map[string]string{"team": "alpha", "password": "secret"})

	var result loginResult
	if err := json.Unmarshal(readUntil(t, conn, "loginResult"), &result); err != nil {
		t.Fatalf("decode login result: %v", err)
	}
	if result.Team != "alpha" || result.Points != 0 {
		t.Fatalf("unexpected login result %+v", result)
	}

	var board view.Board
	if err := json.Unmarshal(readUntil(t, conn, "board"), &board); err != nil {
		t.Fatalf("decode board: %v", err)
	}
	if len(board.Levels) != 2 || !board.Levels[0].Unlocked || board.Levels[1].Unlocked {
		t.Fatalf("unexpected board %+v", board)
	}
}

func TestActionsRequireLogin(t *testing.T) {
	conn, _ := newTestConn(t)

	send(t, conn, "answer", map[string]string{"questionId": "q1", "answer": "alpha"})
	var errMsg struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(readUntil(t, conn, "error"), &errMsg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if errMsg.Code != "notLoggedIn" {
		t.Fatalf("expected notLoggedIn, got %q", errMsg.Code)
	}
}

func TestOpenQuestionConfirmationRoundTrip(t *testing.T) {
	conn, _ := newTestConn(t)
	login(t, conn)

	send(t, conn, "openQuestion", map[string]any{"questionId": "q1", "confirmed": false})
	var qv view.QuestionView
	if err := json.Unmarshal(readUntil(t, conn, "confirmRequired"), &qv); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if qv.ID != "q1" || qv.BodyHTML != "" {
		t.Fatalf("confirmation prompt should carry no body, got %+v", qv)
	}

	send(t, conn, "openQuestion", map[string]any{"questionId": "q1", "confirmed": true})
	if err := json.Unmarshal(readUntil(t, conn, "question"), &qv); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if qv.BodyHTML != "<p>find the <strong>key</strong></p>" {
		t.Fatalf("unexpected body %q", qv.BodyHTML)
	}
	if !qv.HasHint || qv.Hint != "" {
		t.Fatalf("hint must stay hidden until bought, got %+v", qv)
	}
}

func TestAnswerFlow(t *testing.T) {
	conn, st := newTestConn(t)
	login(t, conn)

	send(t, conn, "answer", map[string]string{"questionId": "q1", "answer": "ALPHA "})
	var outcome domain.AnswerOutcome
	if err := json.Unmarshal(readUntil(t, conn, "answerResult"), &outcome); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if outcome.Status != domain.AnswerCorrect || outcome.Awarded != 5 {
		t.Fatalf("unexpected outcome %+v", outcome)
	}

	// The progress write fans back out as a board refresh.
	var board view.Board
	deadline := time.Now().Add(3 * time.Second)
	for {
		if err := json.Unmarshal(readUntil(t, conn, "board"), &board); err != nil {
			t.Fatalf("decode board: %v", err)
		}
		if board.Levels[0].Cards[0].State == view.CardCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("board never showed q1 completed")
		}
	}

	v, _ := st.Get(context.Background(), store.PointsPath("alpha"))
	if v.Int() != 5 {
		t.Fatalf("expected 5 points persisted, got %d", v.Int())
	}
}

func TestCompletionPushedToClient(t *testing.T) {
	conn, _ := newTestConn(t)
	login(t, conn)

	send(t, conn, "openQuestion", map[string]any{"questionId": "q1", "confirmed": true})
	readUntil(t, conn, "question")

	send(t, conn, "answer", map[string]string{"questionId": "q1", "answer": "alpha"})
	send(t, conn, "answer", map[string]string{"questionId": "q2", "answer": "beta"})

	var completion completionPayload
	if err := json.Unmarshal(readUntil(t, conn, "completion"), &completion); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if completion.Level != 1 {
		t.Fatalf("expected level 1 completion, got %+v", completion)
	}
	if completion.Message == "" {
		t.Fatalf("completion should carry a message")
	}
}

func TestHintFlow(t *testing.T) {
	conn, st := newTestConn(t)
	login(t, conn)

	// Not enough points yet.
	send(t, conn, "hint", map[string]string{"questionId": "q1"})
	var errMsg struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(readUntil(t, conn, "error"), &errMsg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if errMsg.Code != "insufficientPoints" {
		t.Fatalf("expected insufficientPoints, got %q", errMsg.Code)
	}

	if err := st.Set(context.Background(), store.PointsPath("alpha"), 20); err != nil {
		t.Fatalf("fund team: %v", err)
	}
	send(t, conn, "hint", map[string]string{"questionId": "q1"})
	var outcome domain.HintOutcome
	if err := json.Unmarshal(readUntil(t, conn, "hintResult"), &outcome); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if outcome.Hint != "look closer" || outcome.Charged != 10 || outcome.Points != 10 {
		t.Fatalf("unexpected hint outcome %+v", outcome)
	}
}

func TestLeaderboardStream(t *testing.T) {
	conn, st := newTestConn(t)
	if err := st.Set(context.Background(), store.TeamPath("bravo"), domain.Team{Password: "x", Points: 30}); err != nil {
		t.Fatalf("seed bravo: %v", err)
	}
	login(t, conn)

	send(t, conn, "leaderboard", struct{}{})
	var rows []view.Row
	if err := json.Unmarshal(readUntil(t, conn, "leaderboard"), &rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 2 || rows[0].Team != "bravo" || rows[0].Rank != 1 {
		t.Fatalf("unexpected rows %+v", rows)
	}
	if !rows[1].IsCurrentTeam {
		t.Fatalf("alpha should be flagged as the current team")
	}
}

func TestLeaderboardResubscribeReplacesStream(t *testing.T) {
	conn, st := newTestConn(t)
	login(t, conn)

	send(t, conn, "leaderboard", struct{}{})
	readUntil(t, conn, "leaderboard")
	send(t, conn, "leaderboard", struct{}{})
	readUntil(t, conn, "leaderboard")

	if err := st.Set(context.Background(), store.PointsPath("alpha"), 40); err != nil {
		t.Fatalf("set points: %v", err)
	}

	// Only the second request's stream is live, so the change arrives in
	// exactly one leaderboard message.
	seen := 0
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(deadline)
		var msg rawMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		if msg.Type != "leaderboard" {
			continue
		}
		var rows []view.Row
		if err := json.Unmarshal(msg.Payload, &rows); err != nil {
			t.Fatalf("decode: %v", err)
		}
		for _, row := range rows {
			if row.Team == "alpha" && row.Points == 40 {
				seen++
			}
		}
	}
	if seen != 1 {
		t.Fatalf("expected the change in exactly one emission, saw %d", seen)
	}
}

func TestLogoutResetsNavbar(t *testing.T) {
	conn, _ := newTestConn(t)
	login(t, conn)

	send(t, conn, "logout", struct{}{})
	deadline := time.Now().Add(3 * time.Second)
	for {
		var nav view.Navbar
		if err := json.Unmarshal(readUntil(t, conn, "navbar"), &nav); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !nav.LoggedIn {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("navbar never reset after logout")
		}
	}
}
