// Package app orchestrates document mutations: metrics derivation, quota
// admission, durable writes, version snapshots, and fire-and-forget index
// reconciliation.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"inkwell/api/internal/auth"
	"inkwell/api/internal/authpw"
	"inkwell/api/internal/config"
	"inkwell/api/internal/email"
	"inkwell/api/internal/export"
	"inkwell/api/internal/plan"
	"inkwell/api/internal/quota"
	"inkwell/api/internal/richtext"
	"inkwell/api/internal/search"
	"inkwell/api/internal/snapshot"
	"inkwell/api/internal/store"
	"inkwell/api/internal/util"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	Plan         string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	GetUserByID(ctx context.Context, id string) (store.User, error)
	InsertDocument(ctx context.Context, doc store.Document) error
	GetDocument(ctx context.Context, id, ownerID string) (store.Document, error)
	ListDocuments(ctx context.Context, ownerID string) ([]store.Document, error)
	UpdateDocumentContent(ctx context.Context, doc store.Document) (bool, error)
	UpdateDocumentTitle(ctx context.Context, id, ownerID, title string) (bool, error)
	ArchiveDocument(ctx context.Context, id, ownerID string) (bool, error)
	InsertDocumentVersion(ctx context.Context, v store.DocumentVersion) error
	ListDocumentVersions(ctx context.Context, documentID, ownerID string, limit int) ([]store.DocumentVersion, error)
	Ping(ctx context.Context) error
}

// SessionStore abstracts refresh token storage; Redis in production with a
// PostgreSQL fallback when Redis is not configured.
type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type snapshotArchive interface {
	Record(documentID string, content snapshot.Content, author, message string) (snapshot.Entry, error)
	History(documentID string, limit int) ([]snapshot.Entry, error)
}

type indexReconciler interface {
	Enabled() bool
	Reconcile(ctx context.Context, documentID, ownerID string) search.Outcome
	HandleArchive(ctx context.Context, documentID, ownerID string) search.Outcome
}

type searchService interface {
	Search(q search.Query) search.Response
	ReindexAll(ctx context.Context)
}

type Service struct {
	cfg        config.Config
	store      dataStore
	sessions   SessionStore
	ledger     *quota.Ledger
	reconciler indexReconciler
	searcher   searchService
	snapshots  snapshotArchive
	authpw     *authpw.Service
	email      *email.Service
	exporter   *export.Service
	runner     Runner
}

// Deps bundles the collaborators wired in at startup. Nil Email disables
// notifications; nil Exporter disables exports.
type Deps struct {
	Sessions   SessionStore
	Ledger     *quota.Ledger
	Reconciler *search.Reconciler
	Searcher   *search.Service
	Snapshots  *snapshot.Service
	Auth       *authpw.Service
	Email      *email.Service
	Exporter   *export.Service
	Runner     Runner
}

func New(cfg config.Config, dataStore *store.PostgresStore, deps Deps) *Service {
	runner := deps.Runner
	if runner == nil {
		runner = Background{Timeout: cfg.SyncTimeout}
	}
	svc := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: deps.Sessions,
		ledger:   deps.Ledger,
		authpw:   deps.Auth,
		email:    deps.Email,
		exporter: deps.Exporter,
		runner:   runner,
	}
	// Typed nils must not land in the interface fields or the nil guards
	// on the optional collaborators stop working.
	if deps.Reconciler != nil {
		svc.reconciler = deps.Reconciler
	}
	if deps.Searcher != nil {
		svc.searcher = deps.Searcher
	}
	if deps.Snapshots != nil {
		svc.snapshots = deps.Snapshots
	}
	return svc
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

// --- sessions ---

type SignUpResult struct {
	UserID              string `json:"userId"`
	RequiresEmailVerify bool   `json:"requiresEmailVerify"`
	// VerificationToken is only returned when no mailer is configured, so
	// local development can complete the flow without SMTP.
	VerificationToken string `json:"verificationToken,omitempty"`
}

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (SignUpResult, error) {
	if s.authpw == nil {
		return SignUpResult{}, fmt.Errorf("authentication not configured")
	}
	resp, err := s.authpw.SignUp(ctx, req)
	if err != nil {
		return SignUpResult{}, err
	}
	result := SignUpResult{UserID: resp.UserID, RequiresEmailVerify: resp.RequiresEmailVerify}
	if s.SMTPConfigured() {
		to := req.Email
		name := req.DisplayName
		verifyURL := s.cfg.AppBaseURL + "/verify-email?token=" + resp.VerificationToken
		s.runner.Go(func(context.Context) {
			if err := s.email.SendVerificationEmail(to, name, verifyURL); err != nil {
				log.Printf("app: verification email for %s: %v", result.UserID, err)
			}
		})
	} else {
		result.VerificationToken = resp.VerificationToken
	}
	return result, nil
}

func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if s.authpw == nil {
		return fmt.Errorf("authentication not configured")
	}
	return s.authpw.VerifyEmail(ctx, token)
}

func (s *Service) SignIn(ctx context.Context, emailAddr, password string) (Session, error) {
	if s.authpw == nil {
		return Session{}, fmt.Errorf("authentication not configured")
	}
	resp, err := s.authpw.SignIn(ctx, authpw.SignInRequest{Email: emailAddr, Password: password})
	if err != nil {
		return Session{}, err
	}
	if resp.RequiresVerify {
		return Session{}, domainError(403, "EMAIL_NOT_VERIFIED", "Please verify your email before signing in", nil)
	}
	return s.issueSession(ctx, resp.User)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Email: user.Email,
		Plan:  string(plan.Normalize(user.Plan)),
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		Plan:         string(plan.Normalize(user.Plan)),
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(_ context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		Email:     claims.Email,
		Plan:      claims.Plan,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// --- documents ---

// DocumentView is the API shape of a document. Index sync bookkeeping is
// internal and never leaves the server.
type DocumentView struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	Content        json.RawMessage `json:"content,omitempty"`
	WordCount      int             `json:"wordCount"`
	CharacterCount int             `json:"characterCount"`
	PageCount      int             `json:"pageCount"`
	SizeBytes      int64           `json:"sizeBytes"`
	Archived       bool            `json:"archived"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	LastEditedAt   time.Time       `json:"lastEditedAt"`
}

func documentView(doc store.Document, includeContent bool) DocumentView {
	view := DocumentView{
		ID:             doc.ID,
		Title:          doc.Title,
		WordCount:      doc.WordCount,
		CharacterCount: doc.CharacterCount,
		PageCount:      doc.PageCount,
		SizeBytes:      doc.SizeBytes,
		Archived:       doc.Archived,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
		LastEditedAt:   doc.LastEditedAt,
	}
	if includeContent {
		view.Content = doc.Content
	}
	return view
}

type CreateDocumentInput struct {
	Title   string          `json:"title"`
	Content json.RawMessage `json:"content"`
}

func (in CreateDocumentInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Title, validation.Required, validation.Length(1, 200)),
		validation.Field(&in.Content, validation.Required),
	)
}

func (s *Service) CreateDocument(ctx context.Context, session Session, input CreateDocumentInput) (DocumentView, error) {
	input.Title = strings.TrimSpace(input.Title)
	if err := input.Validate(); err != nil {
		return DocumentView{}, validationFailed("Invalid document", err)
	}

	metrics := richtext.Compute(input.Content, s.wordsPerPage())

	if err := s.ledger.EnsureAccount(ctx, session.UserID, plan.Normalize(session.Plan)); err != nil {
		return DocumentView{}, err
	}
	admission, err := s.ledger.CheckCreation(ctx, session.UserID, metrics)
	if err != nil {
		return DocumentView{}, err
	}
	if !admission.Allowed {
		return DocumentView{}, quotaExceeded(admission.Violations)
	}

	now := time.Now()
	doc := store.Document{
		ID:             util.NewID("doc"),
		OwnerID:        session.UserID,
		Title:          input.Title,
		Content:        normalizeContent(input.Content),
		DerivedText:    metrics.DerivedText,
		WordCount:      metrics.WordCount,
		CharacterCount: metrics.CharacterCount,
		PageCount:      metrics.PageCount,
		SizeBytes:      metrics.SizeBytes,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastEditedAt:   now,
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return DocumentView{}, fmt.Errorf("insert document: %w", err)
	}

	// The document row is durable; ledger drift is logged, never surfaced.
	if err := s.ledger.CommitCreation(ctx, session.UserID, metrics.SizeBytes); err != nil {
		log.Printf("app: quota commit for create %s: %v", doc.ID, err)
	}

	s.recordVersion(ctx, doc, true)
	s.mirrorSnapshot(doc, session, "Create document")
	s.scheduleReconcile(doc.ID, session.UserID)
	s.maybeQuotaWarning(session)

	return documentView(doc, true), nil
}

type UpdateDocumentInput struct {
	Title      *string         `json:"title"`
	Content    json.RawMessage `json:"content"`
	IsAutosave bool            `json:"isAutosave"`
}

func (s *Service) UpdateDocument(ctx context.Context, session Session, documentID string, input UpdateDocumentInput) (DocumentView, error) {
	existing, err := s.store.GetDocument(ctx, documentID, session.UserID)
	if err != nil {
		return DocumentView{}, notFound("Document not found")
	}

	title := existing.Title
	if input.Title != nil {
		title = strings.TrimSpace(*input.Title)
		if title == "" || len(title) > 200 {
			return DocumentView{}, validationFailed("Invalid title", nil)
		}
	}

	// Title-only updates touch metadata and skip metric recomputation.
	if len(input.Content) == 0 {
		if input.Title == nil {
			return DocumentView{}, validationFailed("Nothing to update", nil)
		}
		found, err := s.store.UpdateDocumentTitle(ctx, documentID, session.UserID, title)
		if err != nil {
			return DocumentView{}, fmt.Errorf("update title: %w", err)
		}
		if !found {
			return DocumentView{}, notFound("Document not found")
		}
		// Re-read so the view carries the timestamp the rename just wrote.
		doc, err := s.store.GetDocument(ctx, documentID, session.UserID)
		if err != nil {
			doc = existing
			doc.Title = title
		}
		if !input.IsAutosave {
			s.scheduleReconcile(documentID, session.UserID)
		}
		return documentView(doc, true), nil
	}

	metrics := richtext.Compute(input.Content, s.wordsPerPage())

	if err := s.ledger.EnsureAccount(ctx, session.UserID, plan.Normalize(session.Plan)); err != nil {
		return DocumentView{}, err
	}
	admission, err := s.ledger.CheckUpdate(ctx, session.UserID, metrics)
	if err != nil {
		return DocumentView{}, err
	}
	if !admission.Allowed {
		return DocumentView{}, quotaExceeded(admission.Violations)
	}

	doc := existing
	doc.Title = title
	doc.Content = normalizeContent(input.Content)
	doc.DerivedText = metrics.DerivedText
	doc.WordCount = metrics.WordCount
	doc.CharacterCount = metrics.CharacterCount
	doc.PageCount = metrics.PageCount
	doc.SizeBytes = metrics.SizeBytes

	found, err := s.store.UpdateDocumentContent(ctx, doc)
	if err != nil {
		return DocumentView{}, fmt.Errorf("update document: %w", err)
	}
	if !found {
		return DocumentView{}, notFound("Document not found")
	}

	if err := s.ledger.CommitUpdate(ctx, session.UserID, existing.SizeBytes, metrics.SizeBytes); err != nil {
		log.Printf("app: quota commit for update %s: %v", documentID, err)
	}

	// Autosaves are durable but quiet: no version snapshot, no index churn.
	if !input.IsAutosave {
		s.recordVersion(ctx, doc, true)
		s.mirrorSnapshot(doc, session, "Manual save")
		s.scheduleReconcile(documentID, session.UserID)
	}

	return documentView(doc, true), nil
}

func (s *Service) ArchiveDocument(ctx context.Context, session Session, documentID string) error {
	doc, err := s.store.GetDocument(ctx, documentID, session.UserID)
	if err != nil {
		return notFound("Document not found")
	}

	found, err := s.store.ArchiveDocument(ctx, documentID, session.UserID)
	if err != nil {
		return fmt.Errorf("archive document: %w", err)
	}
	if !found {
		return notFound("Document not found")
	}

	if err := s.ledger.CommitDeletion(ctx, session.UserID, doc.SizeBytes); err != nil {
		log.Printf("app: quota commit for archive %s: %v", documentID, err)
	}

	if s.reconciler != nil {
		ownerID := session.UserID
		s.runner.Go(func(ctx context.Context) {
			outcome := s.reconciler.HandleArchive(ctx, documentID, ownerID)
			if outcome.Status == search.SyncFailed {
				log.Printf("app: index removal for %s deferred: %v", documentID, outcome.Err)
			}
		})
	}
	return nil
}

func (s *Service) GetDocument(ctx context.Context, session Session, documentID string) (DocumentView, error) {
	doc, err := s.store.GetDocument(ctx, documentID, session.UserID)
	if err != nil {
		return DocumentView{}, notFound("Document not found")
	}
	return documentView(doc, true), nil
}

func (s *Service) ListDocuments(ctx context.Context, session Session) ([]DocumentView, error) {
	docs, err := s.store.ListDocuments(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	views := make([]DocumentView, 0, len(docs))
	for _, doc := range docs {
		views = append(views, documentView(doc, false))
	}
	return views, nil
}

// SyncDocument forces a synchronous reconcile, used by the manual sync
// endpoint and operational tooling.
func (s *Service) SyncDocument(ctx context.Context, session Session, documentID string) (search.Outcome, error) {
	if s.reconciler == nil || !s.reconciler.Enabled() {
		return search.Outcome{}, domainError(503, "SYNC_DISABLED", "Semantic index is not configured", nil)
	}
	return s.reconciler.Reconcile(ctx, documentID, session.UserID), nil
}

func (s *Service) GetUsage(ctx context.Context, session Session) (quota.Usage, error) {
	return s.ledger.Usage(ctx, session.UserID, plan.Normalize(session.Plan))
}

func (s *Service) ListVersions(ctx context.Context, session Session, documentID string, limit int) ([]store.DocumentVersion, error) {
	versions, err := s.store.ListDocumentVersions(ctx, documentID, session.UserID, limit)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	return versions, nil
}

func (s *Service) History(ctx context.Context, session Session, documentID string, limit int) ([]snapshot.Entry, error) {
	// Owner check runs against the database before touching the archive.
	if _, err := s.store.GetDocument(ctx, documentID, session.UserID); err != nil {
		return nil, notFound("Document not found")
	}
	if s.snapshots == nil {
		return []snapshot.Entry{}, nil
	}
	return s.snapshots.History(documentID, limit)
}

func (s *Service) Search(_ context.Context, session Session, text string, limit, offset int) search.Response {
	if s.searcher == nil {
		return search.Response{Results: []search.Result{}, Query: text}
	}
	return s.searcher.Search(search.Query{
		Text:    text,
		OwnerID: session.UserID,
		Limit:   limit,
		Offset:  offset,
	})
}

func (s *Service) Export(ctx context.Context, session Session, documentID string, format export.Format) (*export.Result, error) {
	if s.exporter == nil {
		return nil, domainError(503, "EXPORT_DISABLED", "Export is not configured", nil)
	}
	return s.exporter.Export(ctx, export.Request{
		DocumentID: documentID,
		OwnerID:    session.UserID,
		Format:     format,
	})
}

// ReindexAll rebuilds the semantic index from the database, used at startup
// and by the admin reindex endpoint.
func (s *Service) ReindexAll(ctx context.Context) {
	if s.searcher != nil {
		s.searcher.ReindexAll(ctx)
	}
}

// --- helpers ---

func (s *Service) wordsPerPage() int {
	if s.cfg.WordsPerPage > 0 {
		return s.cfg.WordsPerPage
	}
	return richtext.DefaultWordsPerPage
}

func normalizeContent(content json.RawMessage) json.RawMessage {
	if len(content) == 0 {
		return json.RawMessage(`{}`)
	}
	return content
}

func (s *Service) recordVersion(ctx context.Context, doc store.Document, manual bool) {
	version := store.DocumentVersion{
		ID:             util.NewID("ver"),
		DocumentID:     doc.ID,
		Content:        doc.Content,
		DerivedText:    doc.DerivedText,
		WordCount:      doc.WordCount,
		CharacterCount: doc.CharacterCount,
		PageCount:      doc.PageCount,
		SizeBytes:      doc.SizeBytes,
		Manual:         manual,
	}
	if err := s.store.InsertDocumentVersion(ctx, version); err != nil {
		log.Printf("app: record version for %s: %v", doc.ID, err)
	}
}

func (s *Service) mirrorSnapshot(doc store.Document, session Session, message string) {
	if s.snapshots == nil {
		return
	}
	author := session.UserName
	if author == "" {
		author = session.Email
	}
	content := snapshot.Content{
		Title:       doc.Title,
		Doc:         doc.Content,
		DerivedText: doc.DerivedText,
	}
	documentID := doc.ID
	s.runner.Go(func(context.Context) {
		if _, err := s.snapshots.Record(documentID, content, author, message); err != nil {
			log.Printf("app: snapshot mirror for %s: %v", documentID, err)
		}
	})
}

func (s *Service) scheduleReconcile(documentID, ownerID string) {
	if s.reconciler == nil || !s.reconciler.Enabled() {
		return
	}
	s.runner.Go(func(ctx context.Context) {
		outcome := s.reconciler.Reconcile(ctx, documentID, ownerID)
		if outcome.Status == search.SyncFailed {
			log.Printf("app: reconcile %s failed: %v", documentID, outcome.Err)
		}
	})
}

// maybeQuotaWarning emails owners crossing 80% of their document ceiling.
func (s *Service) maybeQuotaWarning(session Session) {
	if !s.SMTPConfigured() {
		return
	}
	userID := session.UserID
	emailAddr := session.Email
	userName := session.UserName
	p := plan.Normalize(session.Plan)
	s.runner.Go(func(ctx context.Context) {
		usage, err := s.ledger.Usage(ctx, userID, p)
		if err != nil || usage.MaxDocuments == 0 {
			return
		}
		if usage.CurrentDocumentCount*5 < usage.MaxDocuments*4 {
			return
		}
		upgradeURL := ""
		if p != plan.PlanPro {
			upgradeURL = s.cfg.AppBaseURL + "/settings/plan"
		}
		if err := s.email.SendQuotaWarningEmail(emailAddr, userName, usage.CurrentDocumentCount, usage.MaxDocuments, upgradeURL); err != nil {
			log.Printf("app: quota warning email for %s: %v", userID, err)
		}
	})
}
