package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"path"
	"sort"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"copydesk/api/internal/advisor"
	"copydesk/api/internal/authpw"
	"copydesk/api/internal/config"
	"copydesk/api/internal/content"
	"copydesk/api/internal/dispatch"
	"copydesk/api/internal/store"
)

type fakeData struct {
	users  map[string]store.User
	convs  map[string]store.Conversation
	msgs   map[string][]store.Message
	drafts map[string]store.Draft
	audits []store.AuditEntry
}

func newFakeData() *fakeData {
	return &fakeData{
		users:  map[string]store.User{},
		convs:  map[string]store.Conversation{},
		msgs:   map[string][]store.Message{},
		drafts: map[string]store.Draft{},
	}
}

func (f *fakeData) CreateUser(_ context.Context, user store.User) error {
	for _, existing := range f.users {
		if existing.Email == user.Email {
			return errors.New("email already registered")
		}
	}
	f.users[user.ID] = user
	return nil
}

func (f *fakeData) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	for _, user := range f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeData) GetUserByID(_ context.Context, id string) (store.User, error) {
	user, ok := f.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeData) ListUsers(_ context.Context) ([]store.User, error) {
	users := make([]store.User, 0, len(f.users))
	for _, user := range f.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (f *fakeData) CountUsers(_ context.Context) (int, error) {
	return len(f.users), nil
}

func (f *fakeData) SetUserRole(_ context.Context, userID, role, localGroup string) error {
	user, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.Role = role
	user.LocalGroup = localGroup
	f.users[userID] = user
	return nil
}

func (f *fakeData) UpdateUserVerificationToken(_ context.Context, userID, token string, _ time.Time) error {
	user, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.VerificationToken = token
	f.users[userID] = user
	return nil
}

func (f *fakeData) VerifyUserEmail(_ context.Context, token string) error {
	for id, user := range f.users {
		if user.VerificationToken == token {
			user.IsEmailVerified = true
			user.VerificationToken = ""
			f.users[id] = user
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeData) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	user, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.PasswordHash = passwordHash
	f.users[userID] = user
	return nil
}

func (f *fakeData) CreatePasswordReset(_ context.Context, _, _ string, _ time.Time) error {
	return nil
}

func (f *fakeData) GetPasswordReset(_ context.Context, _ string) (string, error) {
	return "", sql.ErrNoRows
}

func (f *fakeData) MarkPasswordResetUsed(_ context.Context, _ string) error { return nil }

func (f *fakeData) CreateConversation(_ context.Context, conv store.Conversation) error {
	conv.CreatedAt = time.Now()
	conv.UpdatedAt = conv.CreatedAt
	f.convs[conv.ID] = conv
	return nil
}

func (f *fakeData) GetConversation(_ context.Context, id string) (store.Conversation, error) {
	conv, ok := f.convs[id]
	if !ok {
		return store.Conversation{}, sql.ErrNoRows
	}
	return conv, nil
}

func (f *fakeData) ListConversations(_ context.Context, userID string) ([]store.Conversation, error) {
	var convs []store.Conversation
	for _, conv := range f.convs {
		if conv.UserID == userID {
			convs = append(convs, conv)
		}
	}
	return convs, nil
}

func (f *fakeData) RenameConversation(_ context.Context, id, title string) error {
	conv, ok := f.convs[id]
	if !ok {
		return sql.ErrNoRows
	}
	conv.Title = title
	f.convs[id] = conv
	return nil
}

func (f *fakeData) DeleteConversation(_ context.Context, id string) error {
	delete(f.convs, id)
	delete(f.msgs, id)
	return nil
}

func (f *fakeData) AppendMessage(_ context.Context, msg store.Message) error {
	msg.CreatedAt = time.Now()
	f.msgs[msg.ConversationID] = append(f.msgs[msg.ConversationID], msg)
	return nil
}

func (f *fakeData) ListMessages(_ context.Context, conversationID string) ([]store.Message, error) {
	return f.msgs[conversationID], nil
}

func (f *fakeData) CreateDraft(_ context.Context, draft store.Draft) error {
	draft.CreatedAt = time.Now()
	f.drafts[draft.ID] = draft
	return nil
}

func (f *fakeData) GetDraft(_ context.Context, id string) (store.Draft, error) {
	draft, ok := f.drafts[id]
	if !ok {
		return store.Draft{}, sql.ErrNoRows
	}
	return draft, nil
}

func (f *fakeData) ListDrafts(_ context.Context, status string) ([]store.Draft, error) {
	var drafts []store.Draft
	for _, draft := range f.drafts {
		if status == "" || draft.Status == status {
			drafts = append(drafts, draft)
		}
	}
	sort.Slice(drafts, func(i, j int) bool { return drafts[i].ID < drafts[j].ID })
	return drafts, nil
}

func (f *fakeData) ListDraftsByAuthor(_ context.Context, authorID string) ([]store.Draft, error) {
	var drafts []store.Draft
	for _, draft := range f.drafts {
		if draft.AuthorID == authorID {
			drafts = append(drafts, draft)
		}
	}
	return drafts, nil
}

func (f *fakeData) ReviewDraft(_ context.Context, id, status, reviewerID, note string) error {
	draft, ok := f.drafts[id]
	if !ok || draft.Status != store.DraftPending {
		return sql.ErrNoRows
	}
	now := time.Now()
	draft.Status = status
	draft.ReviewedBy = reviewerID
	draft.ReviewNote = note
	draft.ReviewedAt = &now
	f.drafts[id] = draft
	return nil
}

func (f *fakeData) SetDraftCommit(_ context.Context, id, commitSHA string) error {
	draft, ok := f.drafts[id]
	if !ok {
		return sql.ErrNoRows
	}
	draft.CommitSHA = commitSHA
	f.drafts[id] = draft
	return nil
}

func (f *fakeData) SetDraftImage(_ context.Context, id, imageKey string) error {
	draft, ok := f.drafts[id]
	if !ok || draft.Status != store.DraftPending {
		return sql.ErrNoRows
	}
	draft.ImageKey = imageKey
	f.drafts[id] = draft
	return nil
}

func (f *fakeData) AppendAudit(_ context.Context, entry store.AuditEntry) error {
	f.audits = append(f.audits, entry)
	return nil
}

func (f *fakeData) ListAudit(_ context.Context, limit int) ([]store.AuditEntry, error) {
	if limit <= 0 || limit > len(f.audits) {
		limit = len(f.audits)
	}
	return f.audits[len(f.audits)-limit:], nil
}

func (f *fakeData) ListAuditFor(_ context.Context, contentType, slug string, limit int) ([]store.AuditEntry, error) {
	var matched []store.AuditEntry
	for _, entry := range f.audits {
		if entry.ContentType != contentType {
			continue
		}
		if slug != "" && entry.Slug != slug {
			continue
		}
		matched = append(matched, entry)
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (f *fakeData) Ping(_ context.Context) error { return nil }

type fakeSessions struct {
	byHash map[string]store.User
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, tokenHash string, user store.User, _ time.Time) error {
	f.byHash[tokenHash] = user
	return nil
}

func (f *fakeSessions) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	user, ok := f.byHash[tokenHash]
	if !ok {
		return store.User{}, errors.New("session not found")
	}
	return user, nil
}

func (f *fakeSessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	delete(f.byHash, tokenHash)
	return nil
}

type fakeRepo struct {
	files   map[string]string
	commits []string
	pushes  int
}

func (r *fakeRepo) EnsureFresh(_ context.Context) error { return nil }

func (r *fakeRepo) ReadFile(p string) (string, error) {
	data, ok := r.files[p]
	if !ok {
		return "", fmt.Errorf("read %s: %w", p, fs.ErrNotExist)
	}
	return data, nil
}

func (r *fakeRepo) WriteFile(p string, data []byte) error {
	r.files[p] = string(data)
	return nil
}

func (r *fakeRepo) DeleteFile(p string) (bool, error) {
	_, ok := r.files[p]
	delete(r.files, p)
	return ok, nil
}

func (r *fakeRepo) ListFiles(dir, pattern string) ([]string, error) {
	var matches []string
	for p := range r.files {
		if path.Dir(p) != dir {
			continue
		}
		if ok, _ := path.Match(pattern, path.Base(p)); ok {
			matches = append(matches, p)
		}
	}
	sort.Strings(matches)
	return matches, nil
}

func (r *fakeRepo) CommitLocally(_ []string, message, _ string) (string, error) {
	r.commits = append(r.commits, message)
	return fmt.Sprintf("%040d", len(r.commits)), nil
}

func (r *fakeRepo) PushToRemote(_ context.Context) (int, error) {
	r.pushes++
	return 1, nil
}

type scriptedResponder struct {
	replies []string
	calls   int
}

func (r *scriptedResponder) Respond(_ context.Context, _ string, _ []advisor.Message) (string, error) {
	reply := r.replies[len(r.replies)-1]
	if r.calls < len(r.replies) {
		reply = r.replies[r.calls]
	}
	r.calls++
	return reply, nil
}

type testEnv struct {
	svc  *Service
	data *fakeData
	repo *fakeRepo
	sess *fakeSessions
}

func newTestEnv(replies ...string) *testEnv {
	data := newFakeData()
	repo := &fakeRepo{files: map[string]string{}}
	sessions := &fakeSessions{byHash: map[string]store.User{}}
	reader := content.NewService(repo, nil)
	dispatcher := dispatch.New(repo, reader, data, data, nil, nil, nil, nil)

	cfg := config.Config{
		Addr:          ":8080",
		JWTSecret:     "test-secret",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    720 * time.Hour,
		AdminEmail:    "admin@example.org",
		AdminPassword: "admin-password",
	}

	svc := &Service{
		cfg:        cfg,
		store:      data,
		sessions:   sessions,
		authpw:     authpw.NewService(data, cfg.JWTSecret),
		repo:       repo,
		content:    reader,
		dispatcher: dispatcher,
	}
	if len(replies) > 0 {
		svc.loop = dispatch.NewLoop(&scriptedResponder{replies: replies}, dispatcher, 3)
	}
	return &testEnv{svc: svc, data: data, repo: repo, sess: sessions}
}

func (e *testEnv) addUser(t *testing.T, id, name, email, role, group string) store.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	user := store.User{
		ID:              id,
		DisplayName:     name,
		Email:           email,
		PasswordHash:    string(hash),
		Role:            role,
		LocalGroup:      group,
		IsEmailVerified: true,
	}
	e.data.users[id] = user
	return user
}

func sessionFor(user store.User) Session {
	return Session{
		UserID:   user.ID,
		UserName: user.DisplayName,
		Role:     user.Role,
		Group:    user.LocalGroup,
	}
}

func pendingNewsDraft(authorID, authorName string) store.Draft {
	return store.Draft{
		ID:          "draft_1",
		AuthorID:    authorID,
		AuthorName:  authorName,
		ContentType: "news",
		Slug:        "budget-day",
		Title:       "Budget day",
		Action:      "create",
		Status:      store.DraftPending,
		Payload: map[string]any{
			"frontmatter": map[string]any{
				"title":    "Budget day",
				"slug":     "budget-day",
				"date":     "2026-08-01",
				"category": "Update",
			},
			"body": "Details of the announcement.",
		},
	}
}

func TestBootstrapCreatesAdminOnEmptyDatabase(t *testing.T) {
	env := newTestEnv()
	if err := env.svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	admin, err := env.data.GetUserByEmail(context.Background(), "admin@example.org")
	if err != nil {
		t.Fatalf("admin not created: %v", err)
	}
	if admin.Role != "admin" || !admin.IsEmailVerified {
		t.Errorf("admin misconfigured: role=%s verified=%v", admin.Role, admin.IsEmailVerified)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte("admin-password")); err != nil {
		t.Error("admin password hash does not match configured password")
	}
}

func TestBootstrapSkipsWhenUsersExist(t *testing.T) {
	env := newTestEnv()
	env.addUser(t, "usr_1", "Erin", "erin@example.org", "editor", "")
	if err := env.svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if len(env.data.users) != 1 {
		t.Errorf("bootstrap must not add users, have %d", len(env.data.users))
	}
}

func TestSignInIssuesValidSession(t *testing.T) {
	env := newTestEnv()
	env.addUser(t, "usr_1", "Erin", "erin@example.org", "editor", "")

	sess, err := env.svc.SignIn(context.Background(), "erin@example.org", "password123")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if sess.Token == "" || sess.RefreshToken == "" {
		t.Fatal("session missing tokens")
	}

	parsed, err := env.svc.SessionFromToken(context.Background(), sess.Token)
	if err != nil {
		t.Fatalf("parse issued token: %v", err)
	}
	if parsed.UserID != "usr_1" || parsed.Role != "editor" || parsed.UserName != "Erin" {
		t.Errorf("claims mismatch: %+v", parsed)
	}
}

func TestSignInRejectsWrongPassword(t *testing.T) {
	env := newTestEnv()
	env.addUser(t, "usr_1", "Erin", "erin@example.org", "editor", "")

	_, err := env.svc.SignIn(context.Background(), "erin@example.org", "wrong")
	var domain *DomainError
	if !errors.As(err, &domain) || domain.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestSignInRequiresVerifiedEmail(t *testing.T) {
	env := newTestEnv()
	user := env.addUser(t, "usr_1", "Erin", "erin@example.org", "editor", "")
	user.IsEmailVerified = false
	env.data.users[user.ID] = user

	_, err := env.svc.SignIn(context.Background(), "erin@example.org", "password123")
	var domain *DomainError
	if !errors.As(err, &domain) || domain.Code != "EMAIL_NOT_VERIFIED" {
		t.Fatalf("expected EMAIL_NOT_VERIFIED, got %v", err)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	env := newTestEnv()
	env.addUser(t, "usr_1", "Erin", "erin@example.org", "editor", "")

	first, err := env.svc.SignIn(context.Background(), "erin@example.org", "password123")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	second, err := env.svc.Refresh(context.Background(), first.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Error("refresh token was not rotated")
	}
	if _, err := env.svc.Refresh(context.Background(), first.RefreshToken); err == nil {
		t.Error("old refresh token must be revoked after use")
	}
}

func TestSendMessageCreatesConversation(t *testing.T) {
	env := newTestEnv("Happy to help with your content.")
	user := env.addUser(t, "usr_1", "Erin", "erin@example.org", "editor", "")

	payload, err := env.svc.SendMessage(context.Background(), sessionFor(user), "", "What can you do?")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	convID, _ := payload["conversationId"].(string)
	if convID == "" {
		t.Fatal("no conversation id returned")
	}
	if payload["reply"] != "Happy to help with your content." {
		t.Errorf("wrong reply: %v", payload["reply"])
	}

	conv := env.data.convs[convID]
	if conv.Title != "What can you do?" {
		t.Errorf("conversation title not derived from first message: %q", conv.Title)
	}
	msgs := env.data.msgs[convID]
	if len(msgs) != 2 || msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Errorf("transcript not persisted: %+v", msgs)
	}
}

func TestSendMessageRejectsEmptyText(t *testing.T) {
	env := newTestEnv("unused")
	user := env.addUser(t, "usr_1", "Erin", "erin@example.org", "editor", "")

	_, err := env.svc.SendMessage(context.Background(), sessionFor(user), "", "   ")
	var domain *DomainError
	if !errors.As(err, &domain) || domain.Status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %v", err)
	}
}

func TestSendMessageRejectsForeignConversation(t *testing.T) {
	env := newTestEnv("unused")
	user := env.addUser(t, "usr_1", "Erin", "erin@example.org", "editor", "")
	env.data.convs["conv_other"] = store.Conversation{ID: "conv_other", UserID: "usr_2"}

	_, err := env.svc.SendMessage(context.Background(), sessionFor(user), "conv_other", "hello")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected not-found for foreign conversation, got %v", err)
	}
}

func TestApproveDraftPublishes(t *testing.T) {
	env := newTestEnv()
	author := env.addUser(t, "usr_1", "Casey", "casey@example.org", "contributor", "")
	editor := env.addUser(t, "usr_2", "Erin", "erin@example.org", "editor", "")
	env.data.drafts["draft_1"] = pendingNewsDraft(author.ID, author.DisplayName)

	view, err := env.svc.ApproveDraft(context.Background(), sessionFor(editor), "draft_1", "Looks good")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if view["status"] != store.DraftApproved {
		t.Errorf("draft status = %v, want approved", view["status"])
	}

	raw, ok := env.repo.files["src/content/news/budget-day.md"]
	if !ok {
		t.Fatal("content file not written")
	}
	if !strings.Contains(raw, "title: Budget day") {
		t.Errorf("rendered file missing frontmatter:\n%s", raw)
	}
	if len(env.repo.commits) != 1 || env.repo.commits[0] != "Add News: Budget day" {
		t.Errorf("wrong commits: %v", env.repo.commits)
	}
	if env.repo.pushes != 1 {
		t.Errorf("expected one push, got %d", env.repo.pushes)
	}

	draft := env.data.drafts["draft_1"]
	if draft.ReviewedBy != editor.ID || draft.CommitSHA == "" {
		t.Errorf("review metadata not recorded: %+v", draft)
	}
	if draft.Status != store.DraftApproved {
		t.Errorf("approved draft must stay approved, got %s", draft.Status)
	}
	if len(env.data.audits) != 1 || env.data.audits[0].Action != "publish" {
		t.Errorf("expected one publish audit entry: %+v", env.data.audits)
	}
}

func TestApproveDraftRejectsNonPending(t *testing.T) {
	env := newTestEnv()
	editor := env.addUser(t, "usr_2", "Erin", "erin@example.org", "editor", "")
	draft := pendingNewsDraft("usr_1", "Casey")
	draft.Status = store.DraftRejected
	env.data.drafts[draft.ID] = draft

	_, err := env.svc.ApproveDraft(context.Background(), sessionFor(editor), draft.ID, "")
	var domain *DomainError
	if !errors.As(err, &domain) || domain.Code != "DRAFT_NOT_PENDING" {
		t.Fatalf("expected DRAFT_NOT_PENDING, got %v", err)
	}
}

func TestApproveDraftForbiddenForContributor(t *testing.T) {
	env := newTestEnv()
	author := env.addUser(t, "usr_1", "Casey", "casey@example.org", "contributor", "")
	env.data.drafts["draft_1"] = pendingNewsDraft(author.ID, author.DisplayName)

	_, err := env.svc.ApproveDraft(context.Background(), sessionFor(author), "draft_1", "")
	var domain *DomainError
	if !errors.As(err, &domain) || domain.Status != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
	if len(env.repo.commits) != 0 {
		t.Errorf("forbidden approval must not commit: %v", env.repo.commits)
	}
}

func TestGroupLeadCannotApproveOtherGroups(t *testing.T) {
	env := newTestEnv()
	lead := env.addUser(t, "usr_3", "Lee", "lee@example.org", "group_lead", "oxford")
	draft := pendingNewsDraft("usr_1", "Casey")
	draft.ContentType = "local_event"
	draft.Slug = "london-meetup"
	draft.TargetGroup = "london"
	env.data.drafts[draft.ID] = draft

	_, err := env.svc.ApproveDraft(context.Background(), sessionFor(lead), draft.ID, "")
	var domain *DomainError
	if !errors.As(err, &domain) || domain.Status != http.StatusForbidden {
		t.Fatalf("expected 403 for cross-group approval, got %v", err)
	}
}

func TestRejectDraftNoteOptional(t *testing.T) {
	env := newTestEnv()
	editor := env.addUser(t, "usr_2", "Erin", "erin@example.org", "editor", "")
	env.data.drafts["draft_1"] = pendingNewsDraft("usr_1", "Casey")
	other := pendingNewsDraft("usr_1", "Casey")
	other.ID = "draft_2"
	other.Slug = "second-story"
	env.data.drafts[other.ID] = other

	view, err := env.svc.RejectDraft(context.Background(), sessionFor(editor), "draft_1", "")
	if err != nil {
		t.Fatalf("reject without a note: %v", err)
	}
	if view["status"] != store.DraftRejected {
		t.Errorf("rejection not recorded: %+v", view)
	}

	view, err = env.svc.RejectDraft(context.Background(), sessionFor(editor), "draft_2", "Needs sources")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if view["status"] != store.DraftRejected || view["reviewNote"] != "Needs sources" {
		t.Errorf("rejection note not recorded: %+v", view)
	}
}

func TestAuditLogFiltersByContent(t *testing.T) {
	env := newTestEnv()
	editor := env.addUser(t, "usr_2", "Erin", "erin@example.org", "editor", "")
	env.data.audits = []store.AuditEntry{
		{ID: 1, Action: "create", ContentType: "news", Slug: "budget-day"},
		{ID: 2, Action: "edit", ContentType: "news", Slug: "budget-day"},
		{ID: 3, Action: "create", ContentType: "article", Slug: "deficit-myths"},
		{ID: 4, Action: "delete", ContentType: "news", Slug: "old-story"},
	}

	items, err := env.svc.AuditLog(context.Background(), sessionFor(editor), "news", "budget-day", 0)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected the two budget-day entries, got %+v", items)
	}
	for _, item := range items {
		if item["slug"] != "budget-day" {
			t.Errorf("foreign entry in filtered history: %+v", item)
		}
	}

	items, err = env.svc.AuditLog(context.Background(), sessionFor(editor), "news", "", 0)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(items) != 3 {
		t.Errorf("type filter alone should span slugs, got %+v", items)
	}

	items, err = env.svc.AuditLog(context.Background(), sessionFor(editor), "", "", 0)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(items) != 4 {
		t.Errorf("unfiltered log should return everything, got %+v", items)
	}
}

func TestListDraftsScopedToContributor(t *testing.T) {
	env := newTestEnv()
	author := env.addUser(t, "usr_1", "Casey", "casey@example.org", "contributor", "")
	own := pendingNewsDraft(author.ID, author.DisplayName)
	other := pendingNewsDraft("usr_9", "Riley")
	other.ID = "draft_2"
	other.Slug = "other-story"
	env.data.drafts[own.ID] = own
	env.data.drafts[other.ID] = other

	items, err := env.svc.ListDrafts(context.Background(), sessionFor(author), "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0]["id"] != own.ID {
		t.Errorf("contributor must see only own drafts: %+v", items)
	}
}

func TestSetUserRoleValidation(t *testing.T) {
	env := newTestEnv()
	admin := env.addUser(t, "usr_1", "Ada", "ada@example.org", "admin", "")
	target := env.addUser(t, "usr_2", "Lee", "lee@example.org", "contributor", "")

	if err := env.svc.SetUserRole(context.Background(), sessionFor(admin), target.ID, "group_lead", ""); err == nil {
		t.Error("group lead without a group must be rejected")
	}
	if err := env.svc.SetUserRole(context.Background(), sessionFor(admin), target.ID, "group_lead", "oxford"); err != nil {
		t.Fatalf("set role: %v", err)
	}
	if env.data.users[target.ID].Role != "group_lead" || env.data.users[target.ID].LocalGroup != "oxford" {
		t.Errorf("role not applied: %+v", env.data.users[target.ID])
	}

	if err := env.svc.SetUserRole(context.Background(), sessionFor(target), admin.ID, "contributor", ""); err == nil {
		t.Error("non-admin must not change roles")
	}
}
