// Package onboarding реализует пошаговый мастер онбординга: перевод,
// приветственный комментарий и итог.
//
// Действия в блокчейне необратимы и считаются источником истины. Запись в
// бэкенд после такого действия выполняется по возможности: её ошибка
// логируется, запись ставится в очередь на повтор, а мастер идёт дальше.
package onboarding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/hive-onboarder/internal/model"
	"github.com/mmeshcher/hive-onboarder/internal/signer"
)

// PostsLimit — сколько последних постов приглашённого показывается для выбора.
const PostsLimit = 5

var (
	// ErrRunNotFound возвращается для неизвестного или чужого мастера.
	ErrRunNotFound = errors.New("onboarding run not found")
	// ErrInvalidState возвращается, если шаг не соответствует текущему состоянию.
	ErrInvalidState = errors.New("step is not allowed in current state")
	// ErrStepInProgress возвращается, если предыдущий шаг этого мастера ещё выполняется.
	ErrStepInProgress = errors.New("another step is in progress")
	// ErrSignerUnavailable возвращается, если кошелёк оператора не был подключён при запуске мастера.
	ErrSignerUnavailable = signer.ErrUnavailable
	// ErrAlreadyOnboarded возвращается, если запись уже содержит комментарий.
	ErrAlreadyOnboarded = errors.New("account is already onboarded")
	// ErrCancelled возвращается, если мастер отменили, пока шаг выполнялся.
	ErrCancelled = errors.New("onboarding run was cancelled")
	// ErrSelfOnboarding возвращается при попытке онбординга самого себя.
	ErrSelfOnboarding = errors.New("onboarder and onboarded must differ")
	// ErrNoParentPost возвращается, если для комментария не выбран пост.
	ErrNoParentPost = errors.New("parent post is required")
	// ErrRecordOwnedByAnother возвращается при попытке продолжить чужую запись:
	// бэкенд обновляет запись только по паре onboarder/onboarded.
	ErrRecordOwnedByAnother = errors.New("onboarding record belongs to another onboarder")
)

// State — состояние мастера.
type State string

const (
	StateAwaitingTransfer State = "AWAITING_TRANSFER"
	StateAwaitingComment  State = "AWAITING_COMMENT"
	StateSummary          State = "SUMMARY"
)

// Records описывает запись результатов в бэкенд.
type Records interface {
	AddRecord(ctx context.Context, token string, rec model.OnboardingRecord) (*model.OnboardingRecord, error)
	AttachComment(ctx context.Context, token, onboarder, onboarded, permlink string) error
}

// Posts описывает чтение постов из блокчейна.
type Posts interface {
	AccountPosts(ctx context.Context, account string, limit int) ([]model.Post, error)
}

// Outbox сохраняет записи, которые не удалось отправить в бэкенд.
type Outbox interface {
	EnqueuePending(ctx context.Context, kind model.PendingKind, rec model.OnboardingRecord, cause string) error
}

// Settings — постоянные параметры перевода и комментария.
type Settings struct {
	TransferTo   string
	Amount       model.Amount
	CommunityTag string
	AppName      string
}

// CommentInput — данные, которые оператор отправляет на шаге комментария.
type CommentInput struct {
	ParentAuthor   string `json:"parent_author"`
	ParentPermlink string `json:"parent_permlink"`
	Title          string `json:"title"`
	Body           string `json:"body"`
}

// Summary — итог завершённого онбординга.
type Summary struct {
	Onboarder       string `json:"onboarder"`
	Onboarded       string `json:"onboarded"`
	Amount          string `json:"amount"`
	Memo            string `json:"memo"`
	ParentAuthor    string `json:"parent_author"`
	ParentPermlink  string `json:"parent_permlink"`
	CommentPermlink string `json:"comment_permlink"`
	RecordSynced    bool   `json:"record_synced"`
}

// Snapshot — копия состояния мастера для отображения.
type Snapshot struct {
	ID              string                  `json:"id"`
	State           State                   `json:"state"`
	Onboarder       string                  `json:"onboarder"`
	Onboarded       string                  `json:"onboarded"`
	SignerAvailable bool                    `json:"signer_available"`
	Amount          string                  `json:"amount"`
	Memo            string                  `json:"memo"`
	Record          *model.OnboardingRecord `json:"record,omitempty"`
	Posts           []model.Post            `json:"posts,omitempty"`
	PostsError      string                  `json:"posts_error,omitempty"`
	CommentDraft    string                  `json:"comment_draft,omitempty"`
	Error           string                  `json:"error,omitempty"`
	Summary         *Summary                `json:"summary,omitempty"`
}

type run struct {
	mu sync.Mutex

	id              string
	state           State
	onboarder       string
	onboarded       string
	signerAvailable bool
	memo            string

	record      *model.OnboardingRecord
	posts       []model.Post
	postsLoaded bool
	postsErr    string
	draft       string
	lastErr     string

	parentAuthor    string
	parentPermlink  string
	commentPermlink string
	queued          bool

	busy      bool
	cancelled bool
}

// Sequencer запускает мастера онбординга и хранит их в памяти.
type Sequencer struct {
	signer   signer.Signer
	records  Records
	posts    Posts
	outbox   Outbox
	settings Settings
	logger   *zap.Logger
	now      func() time.Time

	mu   sync.Mutex
	runs map[string]*run
}

// NewSequencer создаёт Sequencer. outbox может быть nil.
func NewSequencer(s signer.Signer, records Records, posts Posts, outbox Outbox, settings Settings, logger *zap.Logger) *Sequencer {
	if settings.AppName == "" {
		settings.AppName = "hive-onboarder/1.0"
	}
	return &Sequencer{
		signer:   s,
		records:  records,
		posts:    posts,
		outbox:   outbox,
		settings: settings,
		logger:   logger,
		now:      time.Now,
		runs:     make(map[string]*run),
	}
}

// Start создаёт мастер для пары onboarder/onboarded. Если в бэкенде уже есть
// запись без комментария, мастер продолжается с шага комментария.
func (s *Sequencer) Start(ctx context.Context, onboarder, onboarded string, rec *model.OnboardingRecord) (Snapshot, error) {
	if onboarder == onboarded {
		return Snapshot{}, ErrSelfOnboarding
	}
	if rec.HasComment() {
		return Snapshot{}, ErrAlreadyOnboarded
	}
	if rec != nil && rec.Onboarder != onboarder {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrRecordOwnedByAnother, rec.Onboarder)
	}

	r := &run{
		id:              uuid.New().String(),
		state:           StateAwaitingTransfer,
		onboarder:       onboarder,
		onboarded:       onboarded,
		signerAvailable: s.signer != nil && s.signer.Available(onboarder),
		memo:            TransferMemo(onboarded),
		draft:           WelcomeComment(onboarded, onboarder),
	}

	if rec != nil {
		copied := *rec
		r.record = &copied
		r.state = StateAwaitingComment
		if rec.Memo != "" {
			r.memo = rec.Memo
		}
	}

	s.mu.Lock()
	s.runs[r.id] = r
	s.mu.Unlock()

	s.logger.Info("onboarding started",
		zap.String("run", r.id),
		zap.String("onboarder", onboarder),
		zap.String("onboarded", onboarded),
		zap.String("state", string(r.state)),
		zap.Bool("signer", r.signerAvailable),
	)

	if r.state == StateAwaitingComment {
		s.loadPosts(ctx, r)
	}

	return s.snapshot(r), nil
}

// Get возвращает текущее состояние мастера.
func (s *Sequencer) Get(id, onboarder string) (Snapshot, error) {
	r, err := s.lookup(id, onboarder)
	if err != nil {
		return Snapshot{}, err
	}
	return s.snapshot(r), nil
}

// Transfer выполняет первый шаг: перевод через кошелёк и создание записи в бэкенде.
func (s *Sequencer) Transfer(ctx context.Context, id string, session model.Session) (Snapshot, error) {
	r, err := s.lookup(id, session.Account)
	if err != nil {
		return Snapshot{}, err
	}
	if err := r.begin(StateAwaitingTransfer); err != nil {
		return s.snapshot(r), err
	}
	defer r.end()

	// Отправленный в кошелёк запрос нельзя отозвать, поэтому ответ
	// обрабатывается даже после ухода клиента.
	bg := context.WithoutCancel(ctx)

	if !r.signerAvailable {
		r.fail(ErrSignerUnavailable)
		return s.snapshot(r), ErrSignerUnavailable
	}

	resp, err := signer.Await(bg, s.signer, signer.Request{
		Kind:     signer.KindTransfer,
		Account:  r.onboarder,
		To:       s.settings.TransferTo,
		Amount:   s.settings.Amount.Fixed(),
		Currency: s.settings.Amount.Currency,
		Memo:     r.memo,
	})
	if err != nil {
		s.logger.Warn("transfer rejected", zap.String("run", r.id), zap.Error(err))
		r.fail(err)
		return s.snapshot(r), err
	}

	s.logger.Info("transfer broadcast",
		zap.String("run", r.id),
		zap.String("onboarder", r.onboarder),
		zap.String("onboarded", r.onboarded),
		zap.ByteString("result", resp.Result),
	)

	rec := model.OnboardingRecord{
		Onboarder: r.onboarder,
		Onboarded: r.onboarded,
		Amount:    s.settings.Amount.String(),
		Memo:      r.memo,
		Timestamp: s.now().UnixMilli(),
	}

	created, err := s.records.AddRecord(bg, session.Token, rec)
	if err != nil {
		s.logger.Error("register onboarding failed after transfer",
			zap.String("run", r.id),
			zap.String("onboarded", r.onboarded),
			zap.Error(err),
		)
		s.enqueue(bg, model.PendingAdd, rec, err)
		created = nil
	}

	r.mu.Lock()
	r.record = created
	r.queued = created == nil
	if r.cancelled {
		// Перевод уже в блокчейне: оператор должен это увидеть.
		if r.record == nil {
			r.record = &rec
		}
		r.lastErr = ErrCancelled.Error()
		snap := s.snapshotLocked(r)
		r.mu.Unlock()
		return snap, ErrCancelled
	}
	r.state = StateAwaitingComment
	r.lastErr = ""
	r.mu.Unlock()

	s.loadPosts(ctx, r)

	return s.snapshot(r), nil
}

// Comment выполняет второй шаг: публикует приветственный комментарий и
// привязывает его permlink к записи в бэкенде.
func (s *Sequencer) Comment(ctx context.Context, id string, session model.Session, in CommentInput) (Snapshot, error) {
	r, err := s.lookup(id, session.Account)
	if err != nil {
		return Snapshot{}, err
	}
	if err := r.begin(StateAwaitingComment); err != nil {
		return s.snapshot(r), err
	}
	defer r.end()

	bg := context.WithoutCancel(ctx)

	if in.ParentAuthor == "" {
		in.ParentAuthor = r.onboarded
	}
	if in.Body == "" {
		r.mu.Lock()
		in.Body = r.draft
		r.mu.Unlock()
	}

	r.mu.Lock()
	r.draft = in.Body
	r.mu.Unlock()

	if in.ParentPermlink == "" {
		r.fail(ErrNoParentPost)
		return s.snapshot(r), ErrNoParentPost
	}

	if !r.signerAvailable {
		r.fail(ErrSignerUnavailable)
		return s.snapshot(r), ErrSignerUnavailable
	}

	permlink, err := NewPermlink(s.now())
	if err != nil {
		r.fail(err)
		return s.snapshot(r), err
	}

	metadata, err := s.commentMetadata()
	if err != nil {
		r.fail(err)
		return s.snapshot(r), err
	}

	_, err = signer.Await(bg, s.signer, signer.Request{
		Kind:           signer.KindPost,
		Account:        r.onboarder,
		Title:          in.Title,
		Body:           in.Body,
		ParentAuthor:   in.ParentAuthor,
		ParentPermlink: in.ParentPermlink,
		Permlink:       permlink,
		JSONMetadata:   metadata,
	})
	if err != nil {
		s.logger.Warn("comment rejected", zap.String("run", r.id), zap.Error(err))
		r.fail(err)
		return s.snapshot(r), err
	}

	s.logger.Info("welcome comment broadcast",
		zap.String("run", r.id),
		zap.String("parent", in.ParentAuthor+"/"+in.ParentPermlink),
		zap.String("permlink", permlink),
	)

	queued := false
	if err := s.records.AttachComment(bg, session.Token, r.onboarder, r.onboarded, permlink); err != nil {
		s.logger.Error("attach comment failed after broadcast",
			zap.String("run", r.id),
			zap.String("permlink", permlink),
			zap.Error(err),
		)
		s.enqueue(bg, model.PendingEdit, model.OnboardingRecord{
			Onboarder:       r.onboarder,
			Onboarded:       r.onboarded,
			CommentPermlink: permlink,
		}, err)
		queued = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.parentAuthor = in.ParentAuthor
	r.parentPermlink = in.ParentPermlink
	r.commentPermlink = permlink
	if r.record != nil {
		r.record.CommentPermlink = permlink
	}
	r.queued = r.queued || queued
	if r.cancelled {
		r.lastErr = ErrCancelled.Error()
		return s.snapshotLocked(r), ErrCancelled
	}
	r.state = StateSummary
	r.lastErr = ""

	snap := s.snapshotLocked(r)

	// Итог возвращается один раз, завершённый мастер больше не нужен.
	s.mu.Lock()
	delete(s.runs, r.id)
	s.mu.Unlock()

	return snap, nil
}

// Cancel прерывает мастер. Уже отправленные в блокчейн и бэкенд действия не откатываются.
func (s *Sequencer) Cancel(id, onboarder string) error {
	r, err := s.lookup(id, onboarder)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateSummary {
		return fmt.Errorf("%w: run is finished", ErrInvalidState)
	}
	r.cancelled = true

	s.mu.Lock()
	delete(s.runs, id)
	s.mu.Unlock()

	s.logger.Info("onboarding cancelled", zap.String("run", id), zap.String("state", string(r.state)))
	return nil
}

func (s *Sequencer) lookup(id, onboarder string) (*run, error) {
	s.mu.Lock()
	r, ok := s.runs[id]
	s.mu.Unlock()
	if !ok || r.onboarder != onboarder {
		return nil, ErrRunNotFound
	}
	return r, nil
}

func (s *Sequencer) loadPosts(ctx context.Context, r *run) {
	r.mu.Lock()
	loaded := r.postsLoaded
	r.mu.Unlock()
	if loaded || s.posts == nil {
		return
	}

	posts, err := s.posts.AccountPosts(ctx, r.onboarded, PostsLimit)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		s.logger.Warn("load posts failed", zap.String("account", r.onboarded), zap.Error(err))
		r.postsErr = err.Error()
		return
	}
	r.posts = posts
	r.postsErr = ""
	r.postsLoaded = true
}

func (s *Sequencer) enqueue(ctx context.Context, kind model.PendingKind, rec model.OnboardingRecord, cause error) {
	if s.outbox == nil {
		return
	}
	if err := s.outbox.EnqueuePending(ctx, kind, rec, cause.Error()); err != nil {
		s.logger.Error("enqueue pending record failed",
			zap.String("kind", string(kind)),
			zap.String("onboarded", rec.Onboarded),
			zap.Error(err),
		)
	}
}

type commentMetadata struct {
	Tags   []string `json:"tags"`
	App    string   `json:"app"`
	Format string   `json:"format"`
}

func (s *Sequencer) commentMetadata() (string, error) {
	tags := []string{"onboarding"}
	if s.settings.CommunityTag != "" {
		tags = []string{s.settings.CommunityTag, "onboarding"}
	}
	b, err := json.Marshal(commentMetadata{
		Tags:   tags,
		App:    s.settings.AppName,
		Format: "markdown",
	})
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(b), nil
}

func (s *Sequencer) snapshot(r *run) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return s.snapshotLocked(r)
}

func (s *Sequencer) snapshotLocked(r *run) Snapshot {
	snap := Snapshot{
		ID:              r.id,
		State:           r.state,
		Onboarder:       r.onboarder,
		Onboarded:       r.onboarded,
		SignerAvailable: r.signerAvailable,
		Amount:          s.settings.Amount.String(),
		Memo:            r.memo,
		Posts:           append([]model.Post(nil), r.posts...),
		PostsError:      r.postsErr,
		Error:           r.lastErr,
	}
	if r.record != nil {
		rec := *r.record
		snap.Record = &rec
		if rec.Amount != "" {
			snap.Amount = rec.Amount
		}
	}
	if r.state == StateAwaitingComment {
		snap.CommentDraft = r.draft
	}
	if r.state == StateSummary {
		snap.Summary = &Summary{
			Onboarder:       r.onboarder,
			Onboarded:       r.onboarded,
			Amount:          snap.Amount,
			Memo:            r.memo,
			ParentAuthor:    r.parentAuthor,
			ParentPermlink:  r.parentPermlink,
			CommentPermlink: r.commentPermlink,
			RecordSynced:    !r.queued,
		}
	}
	return snap
}

func (r *run) begin(want State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelled {
		return ErrCancelled
	}
	if r.busy {
		return ErrStepInProgress
	}
	if r.state != want {
		return fmt.Errorf("%w: state is %s, step needs %s", ErrInvalidState, r.state, want)
	}
	r.busy = true
	return nil
}

func (r *run) end() {
	r.mu.Lock()
	r.busy = false
	r.mu.Unlock()
}

func (r *run) fail(err error) {
	r.mu.Lock()
	r.lastErr = err.Error()
	r.mu.Unlock()
}
