package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// dueSweepLimit bounds how many overdue sessions one sweep closes.
const dueSweepLimit = 500

// errSubmissionNotStored is the grading error reported when the submission
// row could not be written.
const errSubmissionNotStored = "submission not stored"

// SessionService owns the session lifecycle: start/resume, the request
// guard, terminal transitions and grading.
type SessionService struct {
	store      Store
	catalog    ExamCatalog
	enrollment EnrollmentChecker
	audit      AuditRecorder
	events     EventSink
	log        zerolog.Logger
	now        func() time.Time
}

// NewSessionService creates a new SessionService.
func NewSessionService(
	store Store,
	catalog ExamCatalog,
	enrollment EnrollmentChecker,
	audit AuditRecorder,
	events EventSink,
	log zerolog.Logger,
) *SessionService {
	if events == nil {
		events = NopEventSink{}
	}
	return &SessionService{
		store:      store,
		catalog:    catalog,
		enrollment: enrollment,
		audit:      audit,
		events:     events,
		log:        log.With().Str("component", "session_service").Logger(),
		now:        time.Now,
	}
}

// SetClock replaces the time source.
func (s *SessionService) SetClock(now func() time.Time) {
	s.now = now
}

// SetEventSink replaces the lifecycle event sink.
func (s *SessionService) SetEventSink(sink EventSink) {
	if sink == nil {
		sink = NopEventSink{}
	}
	s.events = sink
}

// GuardRequest identifies the caller of a session-scoped operation.
type GuardRequest struct {
	SessionID uuid.UUID
	Token     string
	CallerID  int
	// AllowLocked lets a locked session through instead of rejecting it.
	AllowLocked bool
}

// StartSession opens a new session or silently resumes the live one.
func (s *SessionService) StartSession(ctx context.Context, userID int, instanceID uuid.UUID, meta model.ClientMeta) (*model.StartSessionResponse, error) {
	now := s.now()

	inst, err := s.catalog.GetInstance(ctx, instanceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: exam instance not found", ErrNotEligible)
		}
		return nil, fmt.Errorf("get instance: %w", err)
	}
	if !inst.Published {
		return nil, fmt.Errorf("%w: exam is not published", ErrNotEligible)
	}
	if !inst.OpenAt(now) {
		return nil, fmt.Errorf("%w: exam window is closed", ErrNotEligible)
	}

	enrolled, err := s.enrollment.IsApprovedEnrolled(ctx, userID, inst.Template.ClassID)
	if err != nil {
		return nil, fmt.Errorf("check enrollment: %w", err)
	}
	if !enrolled {
		return nil, fmt.Errorf("%w: not enrolled in class", ErrNotEligible)
	}

	existing, err := s.store.FindSession(ctx, userID, instanceID)
	switch {
	case err == nil:
		return s.resume(ctx, existing, inst, meta, now)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("find session: %w", err)
	}

	extra, err := s.extraSeconds(ctx, userID, instanceID)
	if err != nil {
		return nil, err
	}
	token, err := newSessionToken()
	if err != nil {
		return nil, err
	}

	startedAt := now
	sess := &model.ExamSession{
		ID:             uuid.New(),
		UserID:         userID,
		ExamInstanceID: instanceID,
		Token:          token,
		State:          model.SessionStateStarted,
		StartedAt:      &startedAt,
		EndsAt:         computeDeadline(inst, now, extra),
		IPBinding:      meta.IP,
		UAHash:         FingerprintUserAgent(meta.UserAgent),
		CreatedAt:      now,
	}

	if err := s.store.CreateSession(ctx, sess); err != nil {
		if !errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("create session: %w", err)
		}
		// Lost the race to a concurrent start; resume the winner.
		winner, ferr := s.store.FindSession(ctx, userID, instanceID)
		if ferr != nil {
			return nil, fmt.Errorf("find concurrent session: %w", ferr)
		}
		return s.resume(ctx, winner, inst, meta, now)
	}

	metrics.SessionTransitions.WithLabelValues("none", string(model.SessionStateStarted)).Inc()
	s.record(ctx, model.AuditSessionStart, sess, meta, map[string]any{
		"ends_at":       sess.EndsAt,
		"extra_seconds": extra,
	})
	s.emit(ctx, sess, model.EventSessionStarted, now)

	return &model.StartSessionResponse{
		SessionID: sess.ID,
		Token:     sess.Token,
		EndsAt:    sess.EndsAt,
	}, nil
}

func (s *SessionService) resume(ctx context.Context, sess *model.ExamSession, inst *model.ExamInstance, meta model.ClientMeta, now time.Time) (*model.StartSessionResponse, error) {
	if sess.State.IsTerminal() {
		return nil, fmt.Errorf("%w: attempt already used", ErrNotEligible)
	}

	if sess.State == model.SessionStatePending {
		extra, err := s.extraSeconds(ctx, sess.UserID, sess.ExamInstanceID)
		if err != nil {
			return nil, err
		}
		startedAt := now
		sess.StartedAt = &startedAt
		sess.EndsAt = computeDeadline(inst, now, extra)
		sess.IPBinding = meta.IP
		sess.UAHash = FingerprintUserAgent(meta.UserAgent)
		if sess.Token == "" {
			if sess.Token, err = newSessionToken(); err != nil {
				return nil, err
			}
		}
		if err := s.store.ActivateSession(ctx, sess); err != nil {
			if !errors.Is(err, repository.ErrConflict) {
				return nil, fmt.Errorf("activate session: %w", err)
			}
			if sess, err = s.store.GetSession(ctx, sess.ID); err != nil {
				return nil, fmt.Errorf("reload session: %w", err)
			}
			return s.resume(ctx, sess, inst, meta, now)
		}
		sess.State = model.SessionStateStarted
		metrics.SessionTransitions.WithLabelValues(string(model.SessionStatePending), string(model.SessionStateStarted)).Inc()
		s.record(ctx, model.AuditSessionStart, sess, meta, map[string]any{"ends_at": sess.EndsAt})
		s.emit(ctx, sess, model.EventSessionStarted, now)
		return &model.StartSessionResponse{SessionID: sess.ID, Token: sess.Token, EndsAt: sess.EndsAt}, nil
	}

	sess, err := s.closeIfDue(ctx, sess, now)
	if err != nil {
		return nil, err
	}
	if sess.State.IsTerminal() {
		return nil, fmt.Errorf("%w: attempt already used", ErrNotEligible)
	}

	s.record(ctx, model.AuditSessionResume, sess, meta, map[string]any{"state": sess.State})
	return &model.StartSessionResponse{
		SessionID: sess.ID,
		Token:     sess.Token,
		EndsAt:    sess.EndsAt,
		Resumed:   true,
	}, nil
}

// Guard authenticates a session-scoped request and enforces the deadline.
// An overdue live session is closed and graded before ErrDeadlinePassed is
// returned.
func (s *SessionService) Guard(ctx context.Context, req GuardRequest) (*model.ExamSession, error) {
	sess, err := s.authenticate(ctx, req)
	if err != nil {
		return nil, err
	}

	sess, err = s.closeIfDue(ctx, sess, s.now())
	if err != nil {
		return nil, err
	}

	switch sess.State {
	case model.SessionStateStarted:
		return sess, nil
	case model.SessionStateLocked:
		if req.AllowLocked {
			return sess, nil
		}
		return nil, ErrSessionLocked
	case model.SessionStatePending:
		return nil, ErrSessionNotStarted
	default:
		return nil, ErrSessionClosed
	}
}

// authenticate checks the session token and owner without looking at the
// session state.
func (s *SessionService) authenticate(ctx context.Context, req GuardRequest) (*model.ExamSession, error) {
	if req.Token == "" {
		return nil, ErrUnauthorized
	}

	sess, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(req.Token), []byte(sess.Token)) != 1 {
		return nil, ErrUnauthorized
	}
	if sess.UserID != req.CallerID {
		return nil, ErrForbidden
	}
	return sess, nil
}

// SessionStatus returns the caller's session in whatever state it is, with
// its submission once closed. Unlike Guard it never rejects on state.
func (s *SessionService) SessionStatus(ctx context.Context, req GuardRequest) (*model.ExamSession, *model.Submission, error) {
	sess, err := s.authenticate(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	if !sess.State.IsTerminal() {
		return sess, nil, nil
	}
	sub, err := s.store.GetSubmission(ctx, sess.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return sess, nil, nil
		}
		return nil, nil, fmt.Errorf("get submission: %w", err)
	}
	return sess, sub, nil
}

// GetQuestions returns the exam questions without answer keys, with the
// student's current selections.
func (s *SessionService) GetQuestions(ctx context.Context, req GuardRequest) ([]model.QuestionForStudent, error) {
	sess, err := s.Guard(ctx, req)
	if err != nil {
		return nil, err
	}

	inst, err := s.catalog.GetInstance(ctx, sess.ExamInstanceID)
	if err != nil {
		return nil, fmt.Errorf("get instance: %w", err)
	}
	questions, err := s.catalog.ListQuestions(ctx, inst.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	answers, err := s.store.ListAnswers(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}

	selected := make(map[uuid.UUID][]uuid.UUID, len(answers))
	for _, a := range answers {
		selected[a.QuestionID] = a.ChoiceIDs
	}

	sort.SliceStable(questions, func(i, j int) bool {
		return questions[i].Position < questions[j].Position
	})

	out := make([]model.QuestionForStudent, 0, len(questions))
	for _, q := range questions {
		out = append(out, model.QuestionForStudent{
			ID:              q.ID,
			Position:        q.Position,
			Prompt:          q.Prompt,
			Kind:            q.Kind,
			Points:          q.Points,
			Choices:         q.Choices,
			SelectedChoices: selected[q.ID],
		})
	}
	return out, nil
}

// Submit closes a started session voluntarily and grades it.
func (s *SessionService) Submit(ctx context.Context, req GuardRequest, meta model.ClientMeta) (*model.SubmitResponse, error) {
	sess, err := s.Guard(ctx, req)
	if err != nil {
		if errors.Is(err, ErrSessionClosed) {
			return nil, ErrAlreadyTerminal
		}
		return nil, err
	}

	now := s.now()
	closed, sub, res, err := s.closeSession(ctx, sess, []model.SessionState{model.SessionStateStarted}, model.SessionStateSubmitted, now, meta)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, s.explainConflict(ctx, sess.ID, now)
		}
		return nil, err
	}

	resp := &model.SubmitResponse{
		State:    closed.State,
		Score:    sub.Score,
		MaxScore: sub.MaxScore,
		Graded:   sub.Graded,
	}
	if res != nil && sub.Graded {
		if inst, ierr := s.catalog.GetInstance(ctx, sess.ExamInstanceID); ierr == nil && inst.ShowAnswers {
			resp.Details = res.Details
		}
	}
	return resp, nil
}

// explainConflict re-reads a session after a lost CAS and maps its
// current state to the error the caller should see.
func (s *SessionService) explainConflict(ctx context.Context, id uuid.UUID, now time.Time) error {
	current, err := s.store.GetSession(ctx, id)
	if err != nil {
		return fmt.Errorf("reload session: %w", err)
	}
	if current, err = s.closeIfDue(ctx, current, now); err != nil {
		return err
	}
	switch {
	case current.State.IsTerminal():
		return ErrAlreadyTerminal
	case current.State == model.SessionStateLocked:
		return ErrSessionLocked
	default:
		return ErrInvalidTransition
	}
}

// ExpireDue closes every live session whose deadline has passed. The timer
// broadcaster calls it once per tick.
func (s *SessionService) ExpireDue(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.store.ListDueSessions(ctx, now, dueSweepLimit)
	if err != nil {
		return 0, fmt.Errorf("list due sessions: %w", err)
	}

	closed := 0
	for i := range due {
		if _, ok := CheckAndCloseIfExpired(&due[i], now); !ok {
			continue
		}
		if s.expire(ctx, &due[i], now) {
			closed++
		}
	}
	return closed, nil
}

// closeIfDue expires sess when its deadline has passed at now and returns
// ErrDeadlinePassed. When the expiry loses to a concurrent deadline
// extension or close, the reloaded session is returned instead.
func (s *SessionService) closeIfDue(ctx context.Context, sess *model.ExamSession, now time.Time) (*model.ExamSession, error) {
	if _, due := CheckAndCloseIfExpired(sess, now); !due {
		return sess, nil
	}
	if s.expire(ctx, sess, now) {
		return nil, ErrDeadlinePassed
	}

	current, err := s.store.GetSession(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("reload session: %w", err)
	}
	if _, due := CheckAndCloseIfExpired(current, now); due || current.State == model.SessionStateExpired {
		return nil, ErrDeadlinePassed
	}
	return current, nil
}

// expire moves a live session to expired. It reports whether this call won
// the transition; losing to a concurrent close is not an error.
func (s *SessionService) expire(ctx context.Context, sess *model.ExamSession, now time.Time) bool {
	_, _, _, err := s.closeSession(ctx, sess, model.LiveStates, model.SessionStateExpired, now, model.ClientMeta{})
	if err != nil {
		if !errors.Is(err, repository.ErrConflict) {
			s.log.Error().Err(err).
				Str("session_id", sess.ID.String()).
				Msg("Failed to expire session")
		}
		return false
	}
	return true
}

// closeSession performs the terminal CAS and, only when it wins, grades
// the session and writes its submission.
func (s *SessionService) closeSession(
	ctx context.Context,
	sess *model.ExamSession,
	from []model.SessionState,
	to model.SessionState,
	now time.Time,
	meta model.ClientMeta,
) (*model.ExamSession, *model.Submission, *GradeResult, error) {
	t := model.Transition{SessionID: sess.ID, From: from, To: to, At: now}
	switch to {
	case model.SessionStateSubmitted:
		t.OpenAt = now
	case model.SessionStateExpired:
		t.DueAt = now
	}
	closed, err := s.store.TransitionState(ctx, t)
	if err != nil {
		return nil, nil, nil, err
	}
	metrics.SessionTransitions.WithLabelValues(string(sess.State), string(to)).Inc()

	sub, res := s.grade(ctx, closed, now, meta)

	eventType := model.AuditSessionSubmit
	if to == model.SessionStateExpired {
		eventType = model.AuditSessionExpire
	}
	s.record(ctx, eventType, closed, meta, map[string]any{
		"from":      sess.State,
		"score":     sub.Score,
		"max_score": sub.MaxScore,
		"graded":    sub.Graded,
	})

	ev := s.event(closed, model.EventSessionTerminal, now)
	if sub.Graded {
		score := sub.Score
		ev.Score = &score
	}
	s.events.SessionEvent(ctx, ev)

	return closed, sub, res, nil
}

// grade writes the session's submission. Grading failures still produce an
// ungraded submission so the close is never undone. When the submission
// cannot be stored the caller gets an ungraded one and Regrade recreates
// the row later.
func (s *SessionService) grade(ctx context.Context, sess *model.ExamSession, now time.Time, meta model.ClientMeta) (*model.Submission, *GradeResult) {
	sub := &model.Submission{
		ID:            uuid.New(),
		ExamSessionID: sess.ID,
		GradedAt:      now,
	}

	res, inst, err := s.gradeSession(ctx, sess)
	if err != nil {
		sub.GradingError = err.Error()
		metrics.GradingFailures.Inc()
		s.log.Error().Err(err).
			Str("session_id", sess.ID.String()).
			Msg("Grading failed, submission left ungraded")
		s.record(ctx, model.AuditGradingFailed, sess, meta, map[string]any{"error": sub.GradingError})
	} else {
		applyGrade(sub, res, inst)
	}

	created, err := s.store.CreateSubmission(ctx, sub)
	if err != nil {
		metrics.GradingFailures.Inc()
		s.log.Error().Err(err).
			Str("session_id", sess.ID.String()).
			Msg("Failed to store submission, left for regrade")
		s.record(ctx, model.AuditGradingFailed, sess, meta, map[string]any{"error": "store submission: " + err.Error()})
		return &model.Submission{
			ID:            sub.ID,
			ExamSessionID: sess.ID,
			GradingError:  errSubmissionNotStored,
			GradedAt:      now,
		}, nil
	}
	if !created {
		if existing, gerr := s.store.GetSubmission(ctx, sess.ID); gerr == nil {
			return existing, res
		}
	}
	return sub, res
}

func (s *SessionService) gradeSession(ctx context.Context, sess *model.ExamSession) (*GradeResult, *model.ExamInstance, error) {
	inst, err := s.catalog.GetInstance(ctx, sess.ExamInstanceID)
	if err != nil {
		return nil, nil, fmt.Errorf("load instance: %w", err)
	}
	questions, err := s.catalog.ListQuestions(ctx, inst.TemplateID)
	if err != nil {
		return nil, nil, fmt.Errorf("load questions: %w", err)
	}
	answers, err := s.store.ListAnswers(ctx, sess.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("load answers: %w", err)
	}
	res, err := Grade(questions, answers)
	if err != nil {
		return nil, nil, err
	}
	return res, inst, nil
}

func applyGrade(sub *model.Submission, res *GradeResult, inst *model.ExamInstance) {
	sub.Score = res.Score
	sub.MaxScore = res.MaxScore
	sub.Graded = true
	sub.GradingError = ""
	sub.Passed = passed(res.Score, res.MaxScore, inst.Template.PassingScore)
	if res.MaxScore > 0 {
		metrics.SubmissionScore.Observe(res.Score / res.MaxScore)
	}
}

// Regrade grades an ungraded submission again. A closed session whose
// submission was never stored gets one written. Graded submissions are
// never touched.
func (s *SessionService) Regrade(ctx context.Context, teacherID int, sessionID uuid.UUID) (*model.Submission, error) {
	sess, err := s.teacherSession(ctx, teacherID, sessionID)
	if err != nil {
		return nil, err
	}

	sub, err := s.store.GetSubmission(ctx, sess.ID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("get submission: %w", err)
		}
		if !sess.State.IsTerminal() {
			return nil, ErrNotFound
		}
		return s.recreateSubmission(ctx, teacherID, sess)
	}
	if sub.Graded {
		return nil, ErrNotUngraded
	}

	res, inst, err := s.gradeSession(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("regrade: %w", err)
	}
	applyGrade(sub, res, inst)
	sub.GradedAt = s.now()

	ok, err := s.store.FinalizeSubmission(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("finalize submission: %w", err)
	}
	if !ok {
		return nil, ErrNotUngraded
	}

	s.record(ctx, model.AuditSubmissionRegraded, sess, model.ClientMeta{}, map[string]any{
		"teacher_id": teacherID,
		"score":      sub.Score,
	})
	return sub, nil
}

// recreateSubmission grades a closed session that has no submission row.
func (s *SessionService) recreateSubmission(ctx context.Context, teacherID int, sess *model.ExamSession) (*model.Submission, error) {
	res, inst, err := s.gradeSession(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("regrade: %w", err)
	}
	sub := &model.Submission{ID: uuid.New(), ExamSessionID: sess.ID, GradedAt: s.now()}
	applyGrade(sub, res, inst)

	created, err := s.store.CreateSubmission(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("create submission: %w", err)
	}
	if !created {
		return nil, ErrNotUngraded
	}

	s.record(ctx, model.AuditSubmissionRegraded, sess, model.ClientMeta{}, map[string]any{
		"teacher_id": teacherID,
		"score":      sub.Score,
		"recreated":  true,
	})
	return sub, nil
}

// ListFlags returns a session's flags for the owning teacher.
func (s *SessionService) ListFlags(ctx context.Context, teacherID int, sessionID uuid.UUID) ([]model.SessionFlag, error) {
	sess, err := s.teacherSession(ctx, teacherID, sessionID)
	if err != nil {
		return nil, err
	}
	flags, err := s.store.ListFlags(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("list flags: %w", err)
	}
	return flags, nil
}

// teacherSession loads a session and checks the teacher owns its class.
func (s *SessionService) teacherSession(ctx context.Context, teacherID int, sessionID uuid.UUID) (*model.ExamSession, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if _, err := s.authorizeTeacher(ctx, teacherID, sess.ExamInstanceID); err != nil {
		return nil, err
	}
	return sess, nil
}

// AuthorizeInstance checks that teacherID may watch and manage the instance.
func (s *SessionService) AuthorizeInstance(ctx context.Context, teacherID int, instanceID uuid.UUID) error {
	_, err := s.authorizeTeacher(ctx, teacherID, instanceID)
	return err
}

// LiveSessions lists the started and locked sessions of an instance for
// its teacher.
func (s *SessionService) LiveSessions(ctx context.Context, teacherID int, instanceID uuid.UUID) ([]model.ExamSession, error) {
	if _, err := s.authorizeTeacher(ctx, teacherID, instanceID); err != nil {
		return nil, err
	}
	sessions, err := s.store.ListLiveSessions(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("list live sessions: %w", err)
	}
	return sessions, nil
}

// authorizeTeacher returns the instance when teacherID teaches the class
// the instance's template belongs to.
func (s *SessionService) authorizeTeacher(ctx context.Context, teacherID int, instanceID uuid.UUID) (*model.ExamInstance, error) {
	inst, err := s.catalog.GetInstance(ctx, instanceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get instance: %w", err)
	}
	class, err := s.catalog.GetClass(ctx, inst.Template.ClassID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrForbidden
		}
		return nil, fmt.Errorf("get class: %w", err)
	}
	if class.TeacherID != teacherID {
		return nil, ErrForbidden
	}
	return inst, nil
}

// lockSession moves a started session to locked and appends the flag that
// explains why.
func (s *SessionService) lockSession(ctx context.Context, sess *model.ExamSession, details model.FlagDetails, flaggedBy *int, auditType model.AuditEventType) (*model.ExamSession, error) {
	now := s.now()
	locked, err := s.store.TransitionState(ctx, model.Transition{
		SessionID: sess.ID,
		From:      []model.SessionState{model.SessionStateStarted},
		To:        model.SessionStateLocked,
		At:        now,
		OpenAt:    now,
	})
	if err != nil {
		return nil, err
	}
	metrics.SessionTransitions.WithLabelValues(string(model.SessionStateStarted), string(model.SessionStateLocked)).Inc()

	s.appendFlag(ctx, sess, details, flaggedBy)
	s.record(ctx, auditType, locked, model.ClientMeta{}, flagPayload(details))
	s.emit(ctx, locked, model.EventSessionLocked, now)
	return locked, nil
}

func (s *SessionService) appendFlag(ctx context.Context, sess *model.ExamSession, details model.FlagDetails, flaggedBy *int) {
	flag := model.NewSessionFlag(sess.ID, details, flaggedBy)
	flag.ID = uuid.New()
	flag.CreatedAt = s.now()
	if err := s.store.AppendFlag(ctx, flag); err != nil {
		s.log.Error().Err(err).
			Str("session_id", sess.ID.String()).
			Str("flag_type", string(flag.Type)).
			Msg("Failed to append flag")
		return
	}
	metrics.SessionFlags.WithLabelValues(string(flag.Type)).Inc()
}

// applyExtraTime moves a started session's deadline out to include extra
// seconds. The store refuses a deadline that already passed at now, so an
// overdue session is never revived. sess.EndsAt is updated on success.
func (s *SessionService) applyExtraTime(ctx context.Context, sess *model.ExamSession, inst *model.ExamInstance, extra int, now time.Time) bool {
	if sess.State != model.SessionStateStarted || sess.StartedAt == nil {
		return false
	}

	endsAt := computeDeadline(inst, *sess.StartedAt, extra)
	ok, err := s.store.ExtendDeadline(ctx, sess.ID, endsAt, now)
	if err != nil {
		s.log.Error().Err(err).Str("session_id", sess.ID.String()).Msg("Failed to extend deadline")
		return false
	}
	if ok {
		sess.EndsAt = endsAt
	}
	return ok
}

func (s *SessionService) extraSeconds(ctx context.Context, userID int, instanceID uuid.UUID) (int, error) {
	acc, err := s.store.GetAccommodation(ctx, userID, instanceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("get accommodation: %w", err)
	}
	return acc.ExtraSeconds, nil
}

func (s *SessionService) record(ctx context.Context, eventType model.AuditEventType, sess *model.ExamSession, meta model.ClientMeta, payload map[string]any) {
	if s.audit == nil {
		return
	}
	sessionID := sess.ID
	entry := &model.AuditLog{
		ID:            uuid.New(),
		EventType:     eventType,
		ExamSessionID: &sessionID,
		UserID:        sess.UserID,
		Payload:       payload,
		SourceIP:      meta.IP,
		UserAgent:     meta.UserAgent,
		CreatedAt:     s.now(),
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("session_id", sess.ID.String()).
			Str("event_type", string(eventType)).
			Msg("Failed to record audit entry")
	}
}

func (s *SessionService) event(sess *model.ExamSession, t model.SessionEventType, now time.Time) model.SessionEvent {
	return model.SessionEvent{
		Type:             t,
		SessionID:        sess.ID,
		ExamInstanceID:   sess.ExamInstanceID,
		UserID:           sess.UserID,
		State:            sess.State,
		RemainingSeconds: sess.Remaining(now).Seconds(),
		At:               now,
	}
}

func (s *SessionService) emit(ctx context.Context, sess *model.ExamSession, t model.SessionEventType, now time.Time) {
	s.events.SessionEvent(ctx, s.event(sess, t, now))
}

func flagPayload(details model.FlagDetails) map[string]any {
	payload := map[string]any{"flag_type": details.FlagType()}
	switch d := details.(type) {
	case model.MultiIPDetails:
		payload["bound_ip"] = d.BoundIP
		payload["observed_ip"] = d.ObservedIP
	case model.UAMismatchDetails:
		payload["bound_hash"] = d.BoundHash
		payload["observed_hash"] = d.ObservedHash
	case model.ManualLockDetails:
		payload["reason"] = d.Reason
	case model.ManualUnlockDetails:
		payload["reason"] = d.Reason
	case model.AutoLockDetails:
		payload["flag_count"] = d.FlagCount
		payload["threshold"] = d.Threshold
	}
	return payload
}
