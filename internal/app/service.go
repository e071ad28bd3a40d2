// Package app ties the domain services together behind the HTTP API:
// sessions, conversations, the assistant loop, the draft review workflow,
// and admin operations.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"copydesk/api/internal/advisor"
	"copydesk/api/internal/auth"
	"copydesk/api/internal/authpw"
	"copydesk/api/internal/cache"
	"copydesk/api/internal/config"
	"copydesk/api/internal/content"
	"copydesk/api/internal/dispatch"
	"copydesk/api/internal/gitrepo"
	"copydesk/api/internal/imagestore"
	"copydesk/api/internal/notify"
	"copydesk/api/internal/policy"
	"copydesk/api/internal/schema"
	"copydesk/api/internal/search"
	"copydesk/api/internal/session"
	"copydesk/api/internal/store"
	"copydesk/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	Group        string
	ExpiresAt    time.Time
}

type dataStore interface {
	CreateUser(context.Context, store.User) error
	GetUserByID(context.Context, string) (store.User, error)
	ListUsers(context.Context) ([]store.User, error)
	CountUsers(context.Context) (int, error)
	SetUserRole(context.Context, string, string, string) error

	CreateConversation(context.Context, store.Conversation) error
	GetConversation(context.Context, string) (store.Conversation, error)
	ListConversations(context.Context, string) ([]store.Conversation, error)
	RenameConversation(context.Context, string, string) error
	DeleteConversation(context.Context, string) error
	AppendMessage(context.Context, store.Message) error
	ListMessages(context.Context, string) ([]store.Message, error)

	GetDraft(context.Context, string) (store.Draft, error)
	ListDrafts(context.Context, string) ([]store.Draft, error)
	ListDraftsByAuthor(context.Context, string) ([]store.Draft, error)
	ReviewDraft(context.Context, string, string, string, string) error
	SetDraftCommit(context.Context, string, string) error
	SetDraftImage(context.Context, string, string) error

	AppendAudit(context.Context, store.AuditEntry) error
	ListAudit(context.Context, int) ([]store.AuditEntry, error)
	ListAuditFor(context.Context, string, string, int) ([]store.AuditEntry, error)

	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg        config.Config
	store      dataStore
	sessions   sessionStore
	authpw     *authpw.Service
	notify     *notify.Service
	repo       dispatch.Repo
	content    *content.Service
	searcher   *search.Service
	cache      *cache.Cache
	limiter    *cache.RateLimiter
	images     *imagestore.Store
	dispatcher *dispatch.Dispatcher
	loop       *dispatch.Loop
}

type Deps struct {
	Store      *store.PostgresStore
	Sessions   *session.RedisStore
	Auth       *authpw.Service
	Notify     *notify.Service
	Repo       dispatch.Repo
	Content    *content.Service
	Search     *search.Service
	Cache      *cache.Cache
	Limiter    *cache.RateLimiter
	Images     *imagestore.Store
	Dispatcher *dispatch.Dispatcher
	Loop       *dispatch.Loop
}

func New(cfg config.Config, deps Deps) *Service {
	return &Service{
		cfg:        cfg,
		store:      deps.Store,
		sessions:   deps.Sessions,
		authpw:     deps.Auth,
		notify:     deps.Notify,
		repo:       deps.Repo,
		content:    deps.Content,
		searcher:   deps.Search,
		cache:      deps.Cache,
		limiter:    deps.Limiter,
		images:     deps.Images,
		dispatcher: deps.Dispatcher,
		loop:       deps.Loop,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Bootstrap creates the first admin account on an empty database so a fresh
// deployment is usable without manual SQL.
func (s *Service) Bootstrap(ctx context.Context) error {
	count, err := s.store.CountUsers(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	if s.cfg.AdminEmail == "" || s.cfg.AdminPassword == "" {
		log.Printf("app: no users and no admin credentials configured, skipping bootstrap")
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(s.cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	admin := store.User{
		ID:              util.NewID("usr"),
		DisplayName:     "Admin",
		Email:           s.cfg.AdminEmail,
		PasswordHash:    string(hash),
		Role:            string(policy.RoleAdmin),
		IsEmailVerified: true,
	}
	if err := s.store.CreateUser(ctx, admin); err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}
	log.Printf("app: bootstrapped admin account %s", s.cfg.AdminEmail)
	return nil
}

// --- auth and sessions ---

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (map[string]any, error) {
	resp, err := s.authpw.SignUp(ctx, req)
	if err != nil {
		return nil, err
	}

	if s.notify != nil && s.notify.IsConfigured() {
		verifyURL := s.appURL() + "/verify-email?token=" + resp.VerificationToken
		if err := s.notify.SendVerificationEmail(req.Email, req.DisplayName, verifyURL); err != nil {
			log.Printf("app: verification email to %s failed: %v", req.Email, err)
		}
	}

	return map[string]any{
		"userId":              resp.UserID,
		"requiresEmailVerify": resp.RequiresEmailVerify,
	}, nil
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	resp, err := s.authpw.SignIn(ctx, authpw.SignInRequest{Email: email, Password: password})
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Invalid email or password", nil)
	}
	if resp.RequiresVerify {
		return Session{}, domainError(http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Please verify your email address first", nil)
	}
	return s.issueSession(ctx, resp.User)
}

func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	return s.authpw.VerifyEmail(ctx, token)
}

func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	token, err := s.authpw.RequestPasswordReset(ctx, email)
	if err != nil {
		return err
	}
	if token == "" {
		// Unknown email; reply identically so addresses cannot be probed.
		return nil
	}
	if s.notify != nil && s.notify.IsConfigured() {
		resetURL := s.appURL() + "/reset-password?token=" + token
		if err := s.notify.SendPasswordResetEmail(email, "", resetURL); err != nil {
			log.Printf("app: password reset email to %s failed: %v", email, err)
		}
	}
	return nil
}

func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	return s.authpw.ResetPassword(ctx, authpw.ResetPasswordRequest{Token: token, NewPassword: newPassword})
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Name:  user.DisplayName,
		Role:  user.Role,
		Group: user.LocalGroup,
		JTI:   util.NewID("jti"),
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		Group:        user.LocalGroup,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken validates an access token. Role and group travel in the
// claims, so no database lookup happens on the request path.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Role:      string(policy.NormalizeRole(claims.Role)),
		Group:     claims.Group,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) actor(session Session) dispatch.Actor {
	return dispatch.Actor{
		ID:    session.UserID,
		Name:  session.UserName,
		Role:  policy.NormalizeRole(session.Role),
		Group: policy.Group(session.Group),
	}
}

func (s *Service) appURL() string {
	if s.cfg.CORSOrigin != "" && s.cfg.CORSOrigin != "*" {
		return strings.TrimRight(s.cfg.CORSOrigin, "/")
	}
	return "http://localhost" + s.cfg.Addr
}

// --- conversations ---

func (s *Service) ListConversations(ctx context.Context, session Session) ([]map[string]any, error) {
	convs, err := s.store.ListConversations(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(convs))
	for _, conv := range convs {
		items = append(items, map[string]any{
			"id":        conv.ID,
			"title":     conv.Title,
			"createdAt": conv.CreatedAt.Format(time.RFC3339),
			"updatedAt": conv.UpdatedAt.Format(time.RFC3339),
		})
	}
	return items, nil
}

func (s *Service) getOwnConversation(ctx context.Context, session Session, conversationID string) (store.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return store.Conversation{}, err
	}
	if conv.UserID != session.UserID {
		return store.Conversation{}, sql.ErrNoRows
	}
	return conv, nil
}

func (s *Service) ConversationMessages(ctx context.Context, session Session, conversationID string) (map[string]any, error) {
	conv, err := s.getOwnConversation(ctx, session, conversationID)
	if err != nil {
		return nil, err
	}
	messages, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(messages))
	for _, msg := range messages {
		items = append(items, map[string]any{
			"id":        msg.ID,
			"role":      msg.Role,
			"content":   msg.Content,
			"createdAt": msg.CreatedAt.Format(time.RFC3339),
		})
	}
	return map[string]any{
		"id":       conv.ID,
		"title":    conv.Title,
		"messages": items,
	}, nil
}

func (s *Service) RenameConversation(ctx context.Context, session Session, conversationID, title string) error {
	if _, err := s.getOwnConversation(ctx, session, conversationID); err != nil {
		return err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	return s.store.RenameConversation(ctx, conversationID, title)
}

func (s *Service) DeleteConversation(ctx context.Context, session Session, conversationID string) error {
	if _, err := s.getOwnConversation(ctx, session, conversationID); err != nil {
		return err
	}
	return s.store.DeleteConversation(ctx, conversationID)
}

// SendMessage runs one conversational turn: store the user message, hand the
// transcript to the assistant loop, store its reply, and report any content
// operations it performed.
func (s *Service) SendMessage(ctx context.Context, session Session, conversationID, text string) (map[string]any, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "message text is required", nil)
	}
	if s.loop == nil {
		return nil, domainError(http.StatusServiceUnavailable, "ASSISTANT_UNAVAILABLE", "The assistant is not configured", nil)
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, session.UserID)
		if err != nil {
			log.Printf("app: rate limiter unavailable, allowing request: %v", err)
		} else if !allowed {
			return nil, domainError(http.StatusTooManyRequests, "RATE_LIMITED", "Message limit reached, try again later", nil)
		}
	}

	if conversationID == "" {
		conversationID = util.NewID("conv")
		if err := s.store.CreateConversation(ctx, store.Conversation{
			ID:     conversationID,
			UserID: session.UserID,
			Title:  conversationTitle(text),
		}); err != nil {
			return nil, err
		}
	} else if _, err := s.getOwnConversation(ctx, session, conversationID); err != nil {
		return nil, err
	}

	if err := s.store.AppendMessage(ctx, store.Message{
		ID:             util.NewID("msg"),
		ConversationID: conversationID,
		Role:           "user",
		Content:        text,
	}); err != nil {
		return nil, err
	}

	stored, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	// Long conversations are windowed so the prompt stays bounded.
	if len(stored) > historyWindow {
		stored = stored[len(stored)-historyWindow:]
	}
	history := make([]advisor.Message, 0, len(stored))
	for _, msg := range stored {
		history = append(history, advisor.Message{Role: msg.Role, Content: msg.Content})
	}

	actor := s.actor(session)
	system := advisor.BuildSystemPrompt(advisor.Identity{
		DisplayName: session.UserName,
		Role:        actor.Role,
		Group:       actor.Group,
	})

	turn, err := s.loop.Run(ctx, actor, system, history)
	if err != nil {
		log.Printf("app: assistant turn failed: %v", err)
		return nil, domainError(http.StatusBadGateway, "ASSISTANT_ERROR", "The assistant could not respond, try again", nil)
	}

	for _, msg := range turn.Transcript {
		if err := s.store.AppendMessage(ctx, store.Message{
			ID:             util.NewID("msg"),
			ConversationID: conversationID,
			Role:           msg.Role,
			Content:        msg.Content,
		}); err != nil {
			return nil, err
		}
	}

	if pending := pendingOutcome(turn.Outcomes); pending != nil {
		s.notifyReviewers(ctx, session, pending.DraftID)
	}

	return map[string]any{
		"conversationId": conversationID,
		"reply":          turn.Reply,
		"outcomes":       turn.Outcomes,
	}, nil
}

const historyWindow = 30

func conversationTitle(text string) string {
	title := strings.Join(strings.Fields(text), " ")
	if len(title) > 60 {
		title = strings.TrimSpace(title[:60])
	}
	return title
}

func pendingOutcome(outcomes []*dispatch.Outcome) *dispatch.Outcome {
	for _, outcome := range outcomes {
		if outcome.Pending && outcome.DraftID != "" {
			return outcome
		}
	}
	return nil
}

// notifyReviewers emails everyone who can approve the draft. Failures are
// logged; review still happens through the dashboard.
func (s *Service) notifyReviewers(ctx context.Context, session Session, draftID string) {
	if s.notify == nil || !s.notify.IsConfigured() {
		return
	}
	draft, err := s.store.GetDraft(ctx, draftID)
	if err != nil {
		log.Printf("app: load draft %s for reviewer notice: %v", draftID, err)
		return
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		log.Printf("app: list reviewers: %v", err)
		return
	}
	var recipients []string
	for _, user := range users {
		role := policy.NormalizeRole(user.Role)
		if policy.CanApprove(role, policy.Group(user.LocalGroup), policy.ContentType(draft.ContentType), policy.Group(draft.TargetGroup)) {
			recipients = append(recipients, user.Email)
		}
	}
	if len(recipients) == 0 {
		return
	}
	reviewURL := s.appURL() + "/drafts/" + draftID
	if err := s.notify.SendDraftSubmittedEmail(recipients, session.UserName, draft.Title, draft.ContentType, draft.Action, reviewURL); err != nil {
		log.Printf("app: draft review notice failed: %v", err)
	}
}

// --- content browsing ---

func (s *Service) ListContent(ctx context.Context, req content.ListRequest) (map[string]any, error) {
	items, err := s.content.List(ctx, req)
	if err != nil {
		return nil, err
	}
	return map[string]any{"items": items, "count": len(items)}, nil
}

func (s *Service) GetContent(ctx context.Context, contentType, slug string) (content.Item, error) {
	item, err := s.content.Read(ctx, contentType, slug)
	if errors.Is(err, content.ErrNotFound) {
		return content.Item{}, sql.ErrNoRows
	}
	return item, err
}

func (s *Service) ContentStats(ctx context.Context) (map[string]int, error) {
	return s.content.Stats(ctx)
}

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	if s.searcher == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.searcher.Search(ctx, q)
}

// ReindexSearch pushes every published content file into the search index.
func (s *Service) ReindexSearch(ctx context.Context) error {
	if s.searcher == nil {
		return nil
	}
	var records []search.Record
	for _, contentType := range schema.Types() {
		items, err := s.content.List(ctx, content.ListRequest{Type: contentType, Limit: 1000})
		if err != nil {
			return fmt.Errorf("reindex %s: %w", contentType, err)
		}
		for _, item := range items {
			full, err := s.content.Read(ctx, contentType, item.Slug)
			if err != nil {
				continue
			}
			summary, _ := full.Frontmatter["summary"].(string)
			records = append(records, search.Record{
				ID:         search.RecordID(contentType, item.Slug),
				Type:       contentType,
				Slug:       item.Slug,
				Title:      full.Title,
				Summary:    summary,
				Body:       full.Body,
				LocalGroup: schema.LocalGroup(full.Frontmatter),
			})
		}
	}
	s.searcher.ReindexAll(records)
	return nil
}

// --- draft review workflow ---

func draftView(draft store.Draft) map[string]any {
	view := map[string]any{
		"id":          draft.ID,
		"authorId":    draft.AuthorID,
		"authorName":  draft.AuthorName,
		"contentType": draft.ContentType,
		"slug":        draft.Slug,
		"title":       draft.Title,
		"action":      draft.Action,
		"status":      draft.Status,
		"targetGroup": draft.TargetGroup,
		"payload":     draft.Payload,
		"imageKey":    draft.ImageKey,
		"createdAt":   draft.CreatedAt.Format(time.RFC3339),
	}
	if draft.ReviewedBy != "" {
		view["reviewedBy"] = draft.ReviewedBy
		view["reviewNote"] = draft.ReviewNote
	}
	if draft.ReviewedAt != nil {
		view["reviewedAt"] = draft.ReviewedAt.Format(time.RFC3339)
	}
	if draft.CommitSHA != "" {
		view["commitSha"] = draft.CommitSHA
	}
	return view
}

// ListDrafts scopes the review queue to the caller: admins and editors see
// everything, group leads see their own group's local content, contributors
// see only their own submissions.
func (s *Service) ListDrafts(ctx context.Context, session Session, status string) ([]map[string]any, error) {
	role := policy.NormalizeRole(session.Role)

	var drafts []store.Draft
	var err error
	switch role {
	case policy.RoleAdmin, policy.RoleEditor:
		drafts, err = s.store.ListDrafts(ctx, status)
	case policy.RoleGroupLead:
		drafts, err = s.store.ListDrafts(ctx, status)
		if err == nil {
			scoped := drafts[:0]
			for _, draft := range drafts {
				if draft.AuthorID == session.UserID {
					scoped = append(scoped, draft)
					continue
				}
				if policy.CanApprove(role, policy.Group(session.Group), policy.ContentType(draft.ContentType), policy.Group(draft.TargetGroup)) {
					scoped = append(scoped, draft)
				}
			}
			drafts = scoped
		}
	default:
		drafts, err = s.store.ListDraftsByAuthor(ctx, session.UserID)
		if err == nil && status != "" {
			scoped := drafts[:0]
			for _, draft := range drafts {
				if draft.Status == status {
					scoped = append(scoped, draft)
				}
			}
			drafts = scoped
		}
	}
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(drafts))
	for _, draft := range drafts {
		items = append(items, draftView(draft))
	}
	return items, nil
}

func (s *Service) GetDraft(ctx context.Context, session Session, draftID string) (map[string]any, error) {
	draft, err := s.store.GetDraft(ctx, draftID)
	if err != nil {
		return nil, err
	}
	role := policy.NormalizeRole(session.Role)
	if draft.AuthorID != session.UserID &&
		!policy.CanApprove(role, policy.Group(session.Group), policy.ContentType(draft.ContentType), policy.Group(draft.TargetGroup)) {
		return nil, sql.ErrNoRows
	}
	return draftView(draft), nil
}

// ApproveDraft re-validates and publishes a pending draft. Validation runs
// against the payload as stored; a failure aborts with no state change.
func (s *Service) ApproveDraft(ctx context.Context, session Session, draftID, note string) (map[string]any, error) {
	draft, err := s.store.GetDraft(ctx, draftID)
	if err != nil {
		return nil, err
	}
	if draft.Status != store.DraftPending {
		return nil, domainError(http.StatusConflict, "DRAFT_NOT_PENDING", "Draft was already reviewed", nil)
	}
	role := policy.NormalizeRole(session.Role)
	if !policy.CanApprove(role, policy.Group(session.Group), policy.ContentType(draft.ContentType), policy.Group(draft.TargetGroup)) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "You cannot approve this draft", nil)
	}

	filePath, err := schema.FilePath(draft.ContentType, draft.Slug)
	if err != nil {
		return nil, err
	}
	if err := s.repo.EnsureFresh(ctx); err != nil {
		return nil, err
	}

	var sha string
	switch draft.Action {
	case "delete":
		existed, err := s.repo.DeleteFile(filePath)
		if err != nil {
			return nil, err
		}
		if !existed {
			return nil, domainError(http.StatusConflict, "CONTENT_GONE", "Content was already removed", nil)
		}
		spec, _ := schema.Lookup(draft.ContentType)
		sha, err = s.repo.CommitLocally([]string{filePath}, fmt.Sprintf("Delete %s: %s", spec.Name, draft.Slug), draft.AuthorName)
		if err != nil {
			return nil, err
		}
	default:
		fm, _ := draft.Payload["frontmatter"].(map[string]any)
		body, _ := draft.Payload["body"].(string)
		if fm == nil {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Draft payload is missing its frontmatter", nil)
		}
		rendered, validationErrs := schema.Render(draft.ContentType, fm, body)
		if len(validationErrs) > 0 {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Draft content is no longer valid", validationErrs)
		}
		if draft.ImageKey != "" && s.images != nil {
			if err := s.publishDraftImage(ctx, draft); err != nil {
				log.Printf("app: publishing draft image %s failed: %v", draft.ImageKey, err)
			}
		}
		if err := s.repo.WriteFile(filePath, []byte(rendered)); err != nil {
			return nil, err
		}
		spec, _ := schema.Lookup(draft.ContentType)
		verb := "Add"
		if draft.Action == "edit" {
			verb = "Update"
		}
		sha, err = s.repo.CommitLocally([]string{filePath}, fmt.Sprintf("%s %s: %s", verb, spec.Name, draft.Title), draft.AuthorName)
		if err != nil {
			return nil, err
		}
	}

	pushed, err := s.repo.PushToRemote(ctx)
	if err != nil {
		// Commit stays local and the next push retries it.
		log.Printf("app: push after approving %s failed, commit retained: %v", draftID, err)
	}

	if err := s.store.ReviewDraft(ctx, draftID, store.DraftApproved, session.UserID, note); err != nil {
		return nil, err
	}
	if err := s.store.SetDraftCommit(ctx, draftID, sha); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.InvalidateAll(ctx); err != nil {
			log.Printf("app: cache invalidation failed: %v", err)
		}
	}
	if s.searcher != nil {
		if draft.Action == "delete" {
			s.searcher.DeleteRecord(search.RecordID(draft.ContentType, draft.Slug))
		} else if fm, ok := draft.Payload["frontmatter"].(map[string]any); ok {
			body, _ := draft.Payload["body"].(string)
			summary, _ := fm["summary"].(string)
			s.searcher.IndexRecord(search.Record{
				ID:         search.RecordID(draft.ContentType, draft.Slug),
				Type:       draft.ContentType,
				Slug:       draft.Slug,
				Title:      draft.Title,
				Summary:    summary,
				Body:       body,
				LocalGroup: draft.TargetGroup,
			})
		}
	}

	if err := s.store.AppendAudit(ctx, store.AuditEntry{
		ActorID:     session.UserID,
		ActorName:   session.UserName,
		Action:      "publish",
		ContentType: draft.ContentType,
		Slug:        draft.Slug,
		DraftID:     &draft.ID,
		CommitSHA:   sha,
		Detail:      map[string]any{"pushed": pushed},
	}); err != nil {
		log.Printf("app: audit append failed: %v", err)
	}

	s.notifyAuthor(ctx, draft, "approved", note)

	updated, err := s.store.GetDraft(ctx, draftID)
	if err != nil {
		return nil, err
	}
	return draftView(updated), nil
}

func (s *Service) RejectDraft(ctx context.Context, session Session, draftID, note string) (map[string]any, error) {
	draft, err := s.store.GetDraft(ctx, draftID)
	if err != nil {
		return nil, err
	}
	if draft.Status != store.DraftPending {
		return nil, domainError(http.StatusConflict, "DRAFT_NOT_PENDING", "Draft was already reviewed", nil)
	}
	role := policy.NormalizeRole(session.Role)
	if !policy.CanApprove(role, policy.Group(session.Group), policy.ContentType(draft.ContentType), policy.Group(draft.TargetGroup)) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "You cannot reject this draft", nil)
	}
	// Feedback is optional; a bare rejection still lands and notifies the
	// author.
	if err := s.store.ReviewDraft(ctx, draftID, store.DraftRejected, session.UserID, note); err != nil {
		return nil, err
	}

	if err := s.store.AppendAudit(ctx, store.AuditEntry{
		ActorID:     session.UserID,
		ActorName:   session.UserName,
		Action:      "reject",
		ContentType: draft.ContentType,
		Slug:        draft.Slug,
		DraftID:     &draft.ID,
	}); err != nil {
		log.Printf("app: audit append failed: %v", err)
	}

	s.notifyAuthor(ctx, draft, "rejected", note)

	updated, err := s.store.GetDraft(ctx, draftID)
	if err != nil {
		return nil, err
	}
	return draftView(updated), nil
}

func (s *Service) notifyAuthor(ctx context.Context, draft store.Draft, decision, note string) {
	if s.notify == nil || !s.notify.IsConfigured() {
		return
	}
	author, err := s.store.GetUserByID(ctx, draft.AuthorID)
	if err != nil {
		log.Printf("app: load author for decision notice: %v", err)
		return
	}
	if err := s.notify.SendDraftDecisionEmail(author.Email, author.DisplayName, draft.Title, decision, note); err != nil {
		log.Printf("app: decision notice to %s failed: %v", author.Email, err)
	}
}

// publishDraftImage copies an attached image from draft object storage into
// the site repository next to the content file.
func (s *Service) publishDraftImage(ctx context.Context, draft store.Draft) error {
	data, err := s.images.Get(ctx, draft.ImageKey)
	if err != nil {
		return err
	}
	imagePath, _ := draft.Payload["imagePath"].(string)
	if imagePath == "" {
		ext := "png"
		if i := strings.LastIndex(draft.ImageKey, "."); i != -1 && i < len(draft.ImageKey)-1 {
			ext = draft.ImageKey[i+1:]
		}
		imagePath = schema.ImagePath(draft.ContentType, draft.Slug, ext)
	}
	if err := s.repo.WriteFile(imagePath, data); err != nil {
		return err
	}
	if _, err := s.repo.CommitLocally([]string{imagePath}, "Add image for "+draft.Slug, draft.AuthorName); err != nil {
		return err
	}
	return nil
}

// AttachDraftImage stores an uploaded image against a pending draft.
func (s *Service) AttachDraftImage(ctx context.Context, session Session, draftID, filename, contentType string, data []byte) (map[string]any, error) {
	if s.images == nil {
		return nil, domainError(http.StatusServiceUnavailable, "IMAGES_UNAVAILABLE", "Image storage is not configured", nil)
	}
	draft, err := s.store.GetDraft(ctx, draftID)
	if err != nil {
		return nil, err
	}
	if draft.Status != store.DraftPending {
		return nil, domainError(http.StatusConflict, "DRAFT_NOT_PENDING", "Images can only be attached to pending drafts", nil)
	}
	role := policy.NormalizeRole(session.Role)
	if draft.AuthorID != session.UserID &&
		!policy.CanApprove(role, policy.Group(session.Group), policy.ContentType(draft.ContentType), policy.Group(draft.TargetGroup)) {
		return nil, sql.ErrNoRows
	}

	key, err := s.images.Put(ctx, draftID, filename, contentType, data)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetDraftImage(ctx, draftID, key); err != nil {
		return nil, err
	}
	return map[string]any{"imageKey": key}, nil
}

// --- admin ---

func (s *Service) ListUsers(ctx context.Context, session Session) ([]map[string]any, error) {
	if policy.NormalizeRole(session.Role) != policy.RoleAdmin {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Admin access required", nil)
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(users))
	for _, user := range users {
		items = append(items, map[string]any{
			"id":          user.ID,
			"displayName": user.DisplayName,
			"email":       user.Email,
			"role":        user.Role,
			"localGroup":  user.LocalGroup,
			"verified":    user.IsEmailVerified,
			"createdAt":   user.CreatedAt.Format(time.RFC3339),
		})
	}
	return items, nil
}

func (s *Service) SetUserRole(ctx context.Context, session Session, userID, role, localGroup string) error {
	if policy.NormalizeRole(session.Role) != policy.RoleAdmin {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Admin access required", nil)
	}
	if string(policy.NormalizeRole(role)) != role {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "role must be one of admin, editor, group_lead, contributor", nil)
	}
	if localGroup != "" && !policy.ValidGroup(localGroup) {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown local group", nil)
	}
	if policy.Role(role) == policy.RoleGroupLead && localGroup == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "group leads need a local group", nil)
	}
	if err := s.store.SetUserRole(ctx, userID, role, localGroup); err != nil {
		return err
	}
	if err := s.store.AppendAudit(ctx, store.AuditEntry{
		ActorID:   session.UserID,
		ActorName: session.UserName,
		Action:    "set_role",
		Detail:    map[string]any{"userId": userID, "role": role, "localGroup": localGroup},
	}); err != nil {
		log.Printf("app: audit append failed: %v", err)
	}
	return nil
}

// GitStatus reports commits that are committed locally but not yet on the
// remote, usually because a push failed and is waiting for a retry.
func (s *Service) GitStatus(ctx context.Context, session Session) (map[string]any, error) {
	role := policy.NormalizeRole(session.Role)
	if role != policy.RoleAdmin && role != policy.RoleEditor {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Editor access required", nil)
	}
	lister, ok := s.repo.(interface {
		UnpushedCommits(ctx context.Context) ([]gitrepo.CommitInfo, error)
	})
	if !ok {
		return map[string]any{"unpushed": []any{}, "count": 0}, nil
	}
	commits, err := lister.UnpushedCommits(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"unpushed": commits, "count": len(commits)}, nil
}

// PushPending retries pushing local commits to the remote.
func (s *Service) PushPending(ctx context.Context, session Session) (map[string]any, error) {
	role := policy.NormalizeRole(session.Role)
	if role != policy.RoleAdmin && role != policy.RoleEditor {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Editor access required", nil)
	}
	pushed, err := s.repo.PushToRemote(ctx)
	if err != nil {
		return nil, domainError(http.StatusBadGateway, "PUSH_FAILED", "Could not push to the site repository", err.Error())
	}
	return map[string]any{"pushed": pushed}, nil
}

// AuditLog returns recent audit entries. A content type narrows the log to
// one type, and a slug on top of that to one piece of content.
func (s *Service) AuditLog(ctx context.Context, session Session, contentType, slug string, limit int) ([]map[string]any, error) {
	role := policy.NormalizeRole(session.Role)
	if role != policy.RoleAdmin && role != policy.RoleEditor {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Editor access required", nil)
	}
	var entries []store.AuditEntry
	var err error
	if contentType != "" {
		entries, err = s.store.ListAuditFor(ctx, contentType, slug, limit)
	} else {
		entries, err = s.store.ListAudit(ctx, limit)
	}
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		item := map[string]any{
			"id":        entry.ID,
			"actorName": entry.ActorName,
			"action":    entry.Action,
			"createdAt": entry.CreatedAt.Format(time.RFC3339),
		}
		if entry.ContentType != "" {
			item["contentType"] = entry.ContentType
			item["slug"] = entry.Slug
		}
		if entry.DraftID != nil {
			item["draftId"] = *entry.DraftID
		}
		if entry.CommitSHA != "" {
			item["commitSha"] = entry.CommitSHA
		}
		if len(entry.Detail) > 0 {
			item["detail"] = entry.Detail
		}
		items = append(items, item)
	}
	return items, nil
}
